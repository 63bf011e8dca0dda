package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sandkasten-go/internal/logging"
)

// redisOverlay is the optional cross-restart cache described in
// SPEC_FULL.md's supplemented features: when configured, it sits behind
// the mandatory per-process in-memory map (consulted only when that map
// has no entry), keyed by environment id.
// A nil *redisOverlay is valid and simply means the overlay is disabled.
type redisOverlay struct {
	client *redis.Client
	ttl    time.Duration
}

// newRedisOverlay parses url and pings it once; a connection failure is
// logged and treated as "overlay disabled" rather than a startup error,
// since the in-memory map alone already satisfies spec.md §4.8.
func newRedisOverlay(url string, ttlSeconds uint64) *redisOverlay {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logging.S().Errorf("benchmark: invalid redis_url, overlay disabled: %v", err)
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.S().Warnf("benchmark: redis unreachable, overlay disabled: %v", err)
		_ = client.Close()
		return nil
	}
	return &redisOverlay{client: client, ttl: time.Duration(ttlSeconds) * time.Second}
}

func redisKey(environmentID string) string {
	return fmt.Sprintf("sandkasten:benchmark:%s", environmentID)
}

func (r *redisOverlay) get(ctx context.Context, environmentID string) (ResourceUsage, bool) {
	if r == nil {
		return ResourceUsage{}, false
	}
	data, err := r.client.Get(ctx, redisKey(environmentID)).Result()
	if err != nil {
		return ResourceUsage{}, false
	}
	var usage ResourceUsage
	if err := json.Unmarshal([]byte(data), &usage); err != nil {
		logging.S().Warnf("benchmark: corrupt redis entry for %s: %v", environmentID, err)
		return ResourceUsage{}, false
	}
	return usage, true
}

func (r *redisOverlay) set(ctx context.Context, environmentID string, usage ResourceUsage) {
	if r == nil {
		return
	}
	data, err := json.Marshal(usage)
	if err != nil {
		logging.S().Errorf("benchmark: failed to marshal resource usage for %s: %v", environmentID, err)
		return
	}
	if err := r.client.Set(ctx, redisKey(environmentID), data, r.ttl).Err(); err != nil {
		logging.S().Warnf("benchmark: failed to populate redis overlay for %s: %v", environmentID, err)
	}
}
