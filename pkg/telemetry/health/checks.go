package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pinger is implemented by usage storage backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks a storage backend.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// StatusReporter is implemented by the policy file provider.
type StatusReporter interface {
	Status() (loadedAt time.Time, lastErr error)
}

// PolicyCheck fails when policies were never loaded or the last reload
// failed.
func PolicyCheck(r StatusReporter) CheckFunc {
	return func(context.Context) error {
		loadedAt, err := r.Status()
		if err != nil {
			return fmt.Errorf("last policy reload failed: %w", err)
		}
		if loadedAt.IsZero() {
			return errors.New("policies not loaded")
		}
		return nil
	}
}

// RunningCheck fails while running reports false.
func RunningCheck(component string, running func() bool) CheckFunc {
	return func(context.Context) error {
		if !running() {
			return fmt.Errorf("%s not running", component)
		}
		return nil
	}
}
