package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowlite/sidecar/internal/comfy"
	"github.com/flowlite/sidecar/internal/logging"
	"github.com/flowlite/sidecar/internal/metrics"
)

// ErrUnavailable means no snapshot has ever been computed and the host's
// introspection source could not be reached.
var ErrUnavailable = errors.New("catalog unavailable")

// Cache holds the current catalog snapshot and recomputes it on demand.
//
// Refresh policy: wait-for-refresh. The mutex is held across the whole
// read-check-refresh-replace sequence, so callers arriving during an
// in-flight refresh block and then all observe the newly computed snapshot.
// At most one recomputation runs per staleness window; the hold time is
// bounded by the introspection client's timeout.
type Cache struct {
	source comfy.NodeSource
	ttl    time.Duration

	mu         sync.Mutex
	current    *Snapshot
	computedAt time.Time
}

// New creates a cache over the given introspection source.
func New(source comfy.NodeSource, ttl time.Duration) *Cache {
	return &Cache{source: source, ttl: ttl}
}

// Get returns the current snapshot, recomputing it first if none exists,
// force is set, or the cached one has aged past the TTL.
//
// If the introspection source fails and a previous snapshot exists, that
// stale snapshot is returned and the failure logged as a warning. With no
// snapshot at all the error wraps ErrUnavailable.
func (c *Cache) Get(ctx context.Context, force, debug bool) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.current != nil && !force && now.Sub(c.computedAt) < c.ttl {
		metrics.SetCatalogSnapshotAge(now.Sub(c.computedAt))
		return c.current, nil
	}

	start := time.Now()
	info, err := c.source.ObjectInfo(ctx)
	if err != nil {
		if c.current != nil {
			logging.Warn("introspection failed, serving stale catalog",
				zap.Duration("age", now.Sub(c.computedAt)),
				zap.Error(err))
			metrics.RecordCatalogRefresh("stale", 0)
			metrics.SetCatalogSnapshotAge(now.Sub(c.computedAt))
			return c.current, nil
		}
		metrics.RecordCatalogRefresh("error", 0)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	snap := Build(info, now, debug)
	if debug {
		// The cache never stores debug info; keep the stored snapshot lean.
		stripped := *snap
		stripped.Debug = nil
		c.current = &stripped
	} else {
		c.current = snap
	}
	c.computedAt = now

	metrics.RecordCatalogRefresh("ok", time.Since(start))
	metrics.SetCatalogSnapshotAge(0)
	logging.Info("catalog refreshed",
		zap.Int("models", len(snap.Models[CategoryAll])),
		zap.Int("loras", len(snap.Loras)),
		zap.Int("samplers", len(snap.Samplers)),
		zap.Duration("took", time.Since(start)))
	return snap, nil
}
