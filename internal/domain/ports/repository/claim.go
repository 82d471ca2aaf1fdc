package repository

import (
	"context"
	"time"
)

// ClaimStore is the single synchronization primitive the orchestrator
// requires of its storage: an expiring, token-fenced lease per unit of
// work. A live lease excludes other claimants; expiry makes an abandoned
// lease re-claimable, which bounds recovery after a crashed caller.
type ClaimStore interface {
	// Acquire attempts to take the lease. ok=false means another caller
	// holds it, an expected outcome rather than an error.
	Acquire(ctx context.Context, unitID string, ttl time.Duration) (token string, ok bool, err error)

	// Release frees the lease iff token still owns it. ErrClaimHeld
	// reports a lease that lapsed out from under the caller; work done
	// under it may have been repeated elsewhere, never lost.
	Release(ctx context.Context, unitID, token string) error
}
