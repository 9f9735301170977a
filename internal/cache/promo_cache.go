package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

type PromoSource interface {
	ListPromos(ctx context.Context) ([]models.PromoCode, error)
}

// Entry is what the cache knows about one code. Exists is false when the
// snapshot was fresh and did not contain the code.
type Entry struct {
	Promo  models.PromoCode
	Exists bool
}

// PromoCache is a read-through snapshot of all promo codes, refreshed in the
// background. Lookups older than maxStaleness miss, so callers fall back to
// the store. It may only be used to short-circuit, never to approve.
type PromoCache struct {
	mu       sync.RWMutex
	store    map[string]models.PromoCode
	loadedAt time.Time
	// observed holds the Observe sequence number per code since the last
	// refresh, so a refresh never overwrites a newer observation.
	observed map[string]uint64
	seq      uint64

	source   PromoSource
	maxStale time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewPromoCache(source PromoSource, maxStaleness time.Duration, logger *zap.Logger) *PromoCache {
	return &PromoCache{
		store:    make(map[string]models.PromoCode),
		observed: make(map[string]uint64),
		source:   source,
		maxStale: maxStaleness,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *PromoCache) Get(code string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loadedAt.IsZero() || c.now().Sub(c.loadedAt) > c.maxStale {
		return Entry{}, false
	}
	p, ok := c.store[code]
	return Entry{Promo: p, Exists: ok}, true
}

// Observe records a value read inside a ledger transaction. It never
// extends the snapshot's freshness.
func (c *PromoCache) Observe(p models.PromoCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.store[p.Code] = p
	c.observed[p.Code] = c.seq
}

// Refresh replaces the snapshot. Entries observed while the listing was in
// flight are kept since they are at least as new as the listing.
func (c *PromoCache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	start := c.seq
	c.mu.RUnlock()

	promos, err := c.source.ListPromos(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]models.PromoCode, len(promos))
	for _, p := range promos {
		next[p.Code] = p
	}

	c.mu.Lock()
	for code, at := range c.observed {
		if at > start {
			next[code] = c.store[code]
		}
	}
	c.store = next
	c.observed = make(map[string]uint64)
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}

// Run refreshes the snapshot every interval until ctx is done.
func (c *PromoCache) Run(ctx context.Context, interval time.Duration) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("promo cache refresh failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("promo cache refresh failed", zap.Error(err))
			}
		}
	}
}
