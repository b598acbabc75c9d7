// Package cache is a Redis read-through cache over the grant ledger. Grants
// are never revoked, so a cached entry can only be missing new grants, never
// carry stale ones; the ledger invalidates a user's entry on every new grant
// and the TTL bounds staleness when invalidation is missed.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"evidex/internal/access"
	"evidex/internal/platform/redis"
	id "evidex/pkg/domain"
)

const keyPrefix = "evidex:granted:"

// GrantCache implements access.GrantReader over an inner reader, and
// grant.Invalidator for the ledger to bust entries.
type GrantCache struct {
	inner  access.GrantReader
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(inner access.GrantReader, client *redis.Client, ttl time.Duration, logger *slog.Logger) *GrantCache {
	return &GrantCache{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *GrantCache) key(user id.UserID) string {
	return keyPrefix + user.String()
}

// VersionsFor serves the cached set when present, otherwise fills it from the
// inner reader. Redis failures degrade to the inner reader; the cache is an
// optimization, never an authority.
func (c *GrantCache) VersionsFor(ctx context.Context, user id.UserID) ([]id.VersionID, error) {
	members, err := c.client.SMembers(ctx, c.key(user)).Result()
	if err == nil && len(members) > 0 {
		versions := make([]id.VersionID, 0, len(members))
		for _, m := range members {
			u, parseErr := uuid.Parse(m)
			if parseErr != nil {
				// Corrupt entry; drop the whole key and fall through.
				c.InvalidateUser(ctx, user)
				versions = nil
				break
			}
			versions = append(versions, id.VersionID(u))
		}
		if versions != nil {
			return versions, nil
		}
	} else if err != nil {
		c.logger.WarnContext(ctx, "grant cache read failed", "error", err)
	}

	versions, err := c.inner.VersionsFor(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(versions) > 0 {
		values := make([]any, 0, len(versions))
		for _, v := range versions {
			values = append(values, v.String())
		}
		pipe := c.client.Pipeline()
		pipe.SAdd(ctx, c.key(user), values...)
		pipe.Expire(ctx, c.key(user), c.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.WarnContext(ctx, "grant cache fill failed", "error", err)
		}
	}
	return versions, nil
}

// IsGranted checks the cached set first and confirms misses against the
// inner reader, so a not-yet-cached grant still answers true.
func (c *GrantCache) IsGranted(ctx context.Context, version id.VersionID, user id.UserID) (bool, error) {
	ok, err := c.client.SIsMember(ctx, c.key(user), version.String()).Result()
	if err == nil && ok {
		return true, nil
	}
	if err != nil {
		c.logger.WarnContext(ctx, "grant cache read failed", "error", err)
	}
	return c.inner.IsGranted(ctx, version, user)
}

// InvalidateUser drops the user's cached set. Called by the ledger after
// every newly created grant. Best-effort: a failed delete only delays
// visibility of the new grant until the TTL expires.
func (c *GrantCache) InvalidateUser(ctx context.Context, user id.UserID) {
	if err := c.client.Del(ctx, c.key(user)).Err(); err != nil {
		c.logger.WarnContext(ctx, "grant cache invalidate failed", "user_id", user.String(), "error", err)
	}
}
