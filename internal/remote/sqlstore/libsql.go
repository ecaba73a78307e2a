//go:build cgo

package sqlstore

import (
	_ "github.com/tursodatabase/go-libsql"
)

const (
	libsqlAvailable = true
	libsqlDriver    = "libsql"
)
