package sqlstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ncruces/go-sqlite3"

	"github.com/rollcall-dev/rollcall/internal/remote"
)

// classify maps a database failure onto the remote error taxonomy. Lock
// contention and connection loss are transient; constraint and syntax
// errors are fatal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return remote.Fatal(op, err)
	}

	var nerr net.Error
	switch {
	case errors.Is(err, sqlite3.BUSY),
		errors.Is(err, sqlite3.LOCKED),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &nerr):
		return remote.Transient(op, fmt.Errorf("%w: %v", remote.ErrUnreachable, err))
	}

	// go-libsql reports remote failures as plain strings.
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "timed out", "database is locked", "stream not found"} {
		if strings.Contains(msg, s) {
			return remote.Transient(op, fmt.Errorf("%w: %v", remote.ErrUnreachable, err))
		}
	}
	return remote.Fatal(op, err)
}
