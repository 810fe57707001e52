// Package lease wraps the store's lease table with the single operation
// the scheduler and rollup jobs need: acquire-or-fail.
package lease

import (
	"errors"
	"time"

	"github.com/lastwatch/uptime-core/pkg/store"
)

// ErrNotAcquired is returned when a lease is currently held by a prior
// acquisition that has not yet expired. Callers should return early
// without logging above debug, per the LeaseError taxonomy.
var ErrNotAcquired = errors.New("lease: not acquired")

// Acquire attempts to take the named lease for leaseSeconds starting at
// now. It returns ErrNotAcquired (not a generic error) when the lease is
// currently held by someone else.
func Acquire(repo *store.LeaseRepository, name string, now time.Time, leaseSeconds int64) error {
	nowUnix := now.Unix()
	ok, err := repo.TryAcquire(name, nowUnix, nowUnix+leaseSeconds)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	return nil
}
