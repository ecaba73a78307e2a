package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoCredentials is returned when no service-account key can be found.
var ErrNoCredentials = errors.New("no credentials file found")

// CredentialNames are tried in order in each search directory.
var CredentialNames = []string{
	"new-creds.json",
	"creds.json",
	"credentials.json",
	"service-account.json",
}

// SearchDirs returns the directories searched for credentials: the
// executable's directory, then the working directory.
func SearchDirs() []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	return dirs
}

// FindCredentials returns explicit when set (it must exist), otherwise the
// first CredentialNames entry present in dirs.
func FindCredentials(explicit string, dirs []string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("credentials file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, dir := range dirs {
		for _, name := range CredentialNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w (looked for %v in %v)", ErrNoCredentials, CredentialNames, dirs)
}

// ReadCredentials locates and reads the service-account key for c.
func (c *Config) ReadCredentials() ([]byte, string, error) {
	path, err := FindCredentials(c.Sheets.CredentialsFile, SearchDirs())
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read credentials: %w", err)
	}
	return data, path, nil
}
