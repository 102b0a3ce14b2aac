package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	jtiKeyPrefix       = "revoked:jti:"
	watermarkKeyPrefix = "revoked:wm:"
)

// Raises the stored cutoff only when the new one is later. Returns the
// cutoff in force as unix seconds.
var raiseWatermarkLua = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
local want = tonumber(ARGV[1])
if cur and tonumber(cur) >= want then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return tonumber(cur)
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return want
`)

// RedisRegistry keeps entries as plain keys with native expiry, so it needs
// no sweeper. Watermarks live as long as the longest possible token.
type RedisRegistry struct {
	client       redis.UniversalClient
	watermarkTTL time.Duration
	now          func() time.Time
}

func NewRedisRegistry(client redis.UniversalClient, tokenTTL time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, watermarkTTL: tokenTTL, now: time.Now}
}

func (r *RedisRegistry) RevokeToken(ctx context.Context, jti string, accountID uuid.UUID, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, jtiKeyPrefix+jti, accountID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RedisRegistry) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, at time.Time) (time.Time, error) {
	cut := cutoff(at)
	ttl := r.watermarkTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	// a token issued at the cutoff can live one full TTL after it
	ttl += time.Minute

	secs, err := raiseWatermarkLua.Run(ctx, r.client,
		[]string{watermarkKeyPrefix + accountID.String()},
		cut.Unix(), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return time.Time{}, fmt.Errorf("revoke all sessions: %w", err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

func (r *RedisRegistry) IsRevoked(ctx context.Context, jti string, accountID uuid.UUID, issuedAt time.Time) (bool, error) {
	var (
		exists *redis.IntCmd
		wm     *redis.StringCmd
	)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		exists = p.Exists(ctx, jtiKeyPrefix+jti)
		wm = p.Get(ctx, watermarkKeyPrefix+accountID.String())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("lookup revocation: %w", err)
	}

	if exists.Val() > 0 {
		return true, nil
	}
	watermark, err := parseWatermark(wm)
	if err != nil {
		return false, err
	}
	return revokedByWatermark(issuedAt, watermark), nil
}

func (r *RedisRegistry) Watermark(ctx context.Context, accountID uuid.UUID) (time.Time, error) {
	return parseWatermark(r.client.Get(ctx, watermarkKeyPrefix+accountID.String()))
}

func parseWatermark(cmd *redis.StringCmd) (time.Time, error) {
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("lookup watermark: %w", err)
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt watermark %q: %w", raw, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}
