package redis

import (
	"context"
	"time"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ repository.ClaimStore = (*ClaimStore)(nil)

// ClaimStore implements the work-claim protocol as an expiring Redis
// lease: SET NX with TTL gives at-most-one live owner per unit, and key
// expiry makes an abandoned claim re-claimable after the TTL.
type ClaimStore struct {
	cli    *redis.Client
	prefix string
}

func NewClaimStore(c *Client) *ClaimStore {
	return &ClaimStore{cli: c.cli, prefix: "claim:"}
}

// Acquire takes the lease on unitID for ttl. ok=false means another
// caller holds a live lease; the losing caller simply skips the unit.
func (s *ClaimStore) Acquire(ctx context.Context, unitID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.cli.SetNX(ctx, s.prefix+unitID, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// luaRelease deletes the lease only when token still owns it, so a slow
// caller cannot free a lease that has expired and been re-acquired.
var luaRelease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Release frees the lease. ErrClaimHeld reports that token no longer
// owns it: the lease expired, and possibly went to another caller,
// while the work was still in flight.
func (s *ClaimStore) Release(ctx context.Context, unitID, token string) error {
	n, err := luaRelease.Run(ctx, s.cli, []string{s.prefix + unitID}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrClaimHeld
	}
	return nil
}
