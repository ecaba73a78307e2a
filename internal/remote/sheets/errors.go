package sheets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/rollcall-dev/rollcall/internal/remote"
)

// classify maps a Sheets API failure onto the remote error taxonomy.
//
//   - 429 and 5xx, network errors and timeouts are transient
//   - a cancelled context is fatal, so shutdown never trips the breaker
//   - 404 and unparseable ranges mean the sheet is gone (schema)
//   - everything else, including 401 and 403, is fatal
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	// url.Error satisfies net.Error, so cancellation is checked first
	if errors.Is(err, context.Canceled) {
		return remote.Fatal(op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return remote.Transient(op, err)
		case gerr.Code == http.StatusNotFound:
			return remote.Schema(op, fmt.Errorf("%w: %v", remote.ErrTableNotFound, err))
		case gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range"):
			return remote.Schema(op, fmt.Errorf("%w: %v", remote.ErrTableNotFound, err))
		default:
			return remote.Fatal(op, err)
		}
	}

	var nerr net.Error
	switch {
	case errors.As(err, &nerr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return remote.Transient(op, fmt.Errorf("%w: %v", remote.ErrUnreachable, err))
	}
	return remote.Fatal(op, err)
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(gerr.Message), "already exists")
}
