package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/remote"
	"github.com/rollcall-dev/rollcall/internal/remote/sheets"
	"github.com/rollcall-dev/rollcall/internal/remote/sqlstore"
)

// OpenStore builds the remote store selected by cfg.Backend. No network
// call is made for the sheets backend; the first probe connects.
func OpenStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (remote.Store, error) {
	switch cfg.Backend {
	case config.BackendSheets:
		creds, path, err := cfg.ReadCredentials()
		if err != nil {
			return nil, err
		}
		logger.Printf("Using credentials %s", path)
		store, err := sheets.New(&sheets.Config{
			DailySpreadsheetID:  cfg.Sheets.DailySpreadsheetID,
			MasterSpreadsheetID: cfg.Sheets.MasterSpreadsheetID,
			MasterSheet:         cfg.Sheets.MasterSheet,
			TemplateSheet:       cfg.Sheets.TemplateSheet,
			Credentials:         creds,
			Logger:              logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sheets store: %w", err)
		}
		return store, nil

	case config.BackendSQL:
		store, err := sqlstore.Open(ctx, &sqlstore.Config{
			DSN:          cfg.SQL.DSN,
			AuthToken:    cfg.SQL.AuthToken,
			MasterName:   cfg.Sheets.MasterSheet,
			TemplateName: cfg.Sheets.TemplateSheet,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sql store: %w", err)
		}
		return store, nil

	case config.BackendMemory:
		return remote.NewMemStore(), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
