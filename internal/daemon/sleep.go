package daemon

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is canceled, whichever comes first, and
// reports whether the full duration elapsed. The idle wait between passes
// must never hold up shutdown.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
