package port

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrLockNotObtained = errors.New("lock not obtained")

// Locker hands out short leases so only one instance runs a job at a time.
type Locker interface {
	// Obtain returns a release func, or ErrLockNotObtained if the lease is held.
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}
