package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Window is the state of one counter after a hit.
type Window struct {
	Count    int
	ResetAt  time.Time
	Admitted bool
}

// Store counts hits in fixed windows. Hit must be atomic per key: it starts
// a fresh window when none exists or the old one has expired, increments
// while count < max, and leaves the count alone once the window is full.
type Store interface {
	Hit(ctx context.Context, key string, max int, window time.Duration) (Window, error)
}
