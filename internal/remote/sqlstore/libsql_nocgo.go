//go:build !cgo

package sqlstore

const (
	libsqlAvailable = false
	libsqlDriver    = ""
)
