package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		schema    bool
		fatal     bool
		offline   bool
	}{
		{"nil", nil, false, false, false, false},
		{"transient", Transient("get", errors.New("503")), true, false, false, false},
		{"schema", Schema("get", ErrHeaderNotFound), false, true, false, false},
		{"fatal", Fatal("get", errors.New("403")), false, false, true, false},
		{"unclassified", errors.New("boom"), false, false, true, false},
		{"wrapped sentinel", fmt.Errorf("lookup: %w", ErrRowNotFound), false, true, false, false},
		{"unreachable", fmt.Errorf("dial: %w", ErrUnreachable), true, false, false, false},
		{"deadline", context.DeadlineExceeded, true, false, false, false},
		{"offline", fmt.Errorf("push: %w", ErrOffline), false, false, false, true},
		{"wrapped classified", fmt.Errorf("outer: %w", Transient("set", errors.New("reset"))), true, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
			if got := IsSchema(tt.err); got != tt.schema {
				t.Errorf("IsSchema() = %v, want %v", got, tt.schema)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
			if got := IsOffline(tt.err); got != tt.offline {
				t.Errorf("IsOffline() = %v, want %v", got, tt.offline)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := Schema("mark present", fmt.Errorf("%w: 3/7/2026", ErrColumnNotFound))
	if !errors.Is(err, ErrColumnNotFound) {
		t.Error("errors.Is() should see through *Error")
	}
	want := "mark present (schema): column not found: 3/7/2026"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
