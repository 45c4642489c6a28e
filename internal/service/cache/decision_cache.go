package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderguard/orderguard/internal/core"
	"github.com/orderguard/orderguard/internal/domain/model"
)

// DecisionCacheOptions configures a DecisionCache.
type DecisionCacheOptions struct {
	// Local is the in-process tier. Nil disables it.
	Local    *LRU[*model.Decision]
	LocalTTL time.Duration
	// Remote is the shared tier. Nil disables it.
	Remote    core.CacheRepository
	RemoteTTL time.Duration
	Logger    *slog.Logger
}

// DecisionCache is a two-tier decision cache: a process-local LRU in front of Redis.
// Remote hits are copied into the local tier.
type DecisionCache struct {
	local     *LRU[*model.Decision]
	localTTL  time.Duration
	remote    core.CacheRepository
	remoteTTL time.Duration
	logger    *slog.Logger
}

// NewDecisionCache builds a DecisionCache.
func NewDecisionCache(opts DecisionCacheOptions) *DecisionCache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionCache{
		local:     opts.Local,
		localTTL:  opts.LocalTTL,
		remote:    opts.Remote,
		remoteTTL: opts.RemoteTTL,
		logger:    logger.With("component", "decision_cache"),
	}
}

// Get returns a cached decision. Callers must not mutate it.
func (c *DecisionCache) Get(ctx context.Context, key string) (*model.Decision, bool, error) {
	if c.local != nil {
		if d, ok := c.local.Get(key); ok {
			return d, true, nil
		}
	}
	if c.remote == nil {
		return nil, false, nil
	}

	raw, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("remote decision cache get: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	var d model.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it.
		c.logger.WarnContext(ctx, "discarding undecodable cached decision", "key", key, "error", err)
		return nil, false, nil
	}
	if c.local != nil {
		c.local.Set(key, &d, c.localTTL)
	}
	return &d, true, nil
}

// Set stores d in both tiers. The local tier is written even when the remote write fails.
func (c *DecisionCache) Set(ctx context.Context, key string, d *model.Decision) error {
	if d == nil {
		return nil
	}
	if c.local != nil {
		c.local.Set(key, d, c.localTTL)
	}
	if c.remote == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	if err := c.remote.Set(ctx, key, raw, c.remoteTTL); err != nil {
		return fmt.Errorf("remote decision cache set: %w", err)
	}
	return nil
}

// LocalStats reports the in-process tier's counters. It is zero when the tier is disabled.
func (c *DecisionCache) LocalStats() Stats {
	if c.local == nil {
		return Stats{}
	}
	return c.local.Stats()
}
