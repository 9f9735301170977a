package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/config"
	"github.com/Cheertaboi/storefront-order-service/internal/repository"
	"github.com/Cheertaboi/storefront-order-service/pkg/db"
)

// backend is the set of stores the service runs on. promos and loyalty are
// nil when the configured ledger could not be reached.
type backend struct {
	orders  repository.OrderStore
	reviews repository.ReviewStore
	promos  repository.PromoStore
	loyalty repository.LoyaltyStore
	closers []func()
}

func (b *backend) degraded() bool {
	return b.promos == nil || b.loyalty == nil
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects the configured ledger. A connection failure is not
// fatal: orders and reviews fall back to memory and the ledger is disabled.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) *backend {
	mem := repository.NewMemoryStore()
	b := &backend{orders: mem, reviews: mem}

	var err error
	switch cfg.LedgerBackend {
	case config.BackendMemory:
		err = seedMemory(ctx, mem, cfg.PromoSeedFile)
		if err == nil {
			b.promos, b.loyalty = mem, mem
		}
	case config.BackendPostgres:
		err = openPostgres(ctx, b)
	case config.BackendMongo:
		err = openMongo(ctx, b)
	case config.BackendRedis:
		err = openRedis(ctx, b)
	default:
		err = fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
	if err != nil {
		logger.Error("ledger unavailable, starting in degraded mode",
			zap.String("backend", string(cfg.LedgerBackend)),
			zap.Error(err),
		)
		b.promos, b.loyalty = nil, nil
	}
	return b
}

func seedMemory(ctx context.Context, mem *repository.MemoryStore, path string) error {
	if path == "" {
		return nil
	}
	seeds, err := config.LoadPromoSeeds(path)
	if err != nil {
		return err
	}
	for _, p := range seeds {
		if err := mem.UpsertPromo(ctx, p); err != nil {
			return fmt.Errorf("seed %s: %w", p.Code, err)
		}
	}
	return nil
}

func openPostgres(ctx context.Context, b *backend) error {
	pgCfg, err := db.LoadPostgresConfig()
	if err != nil {
		return err
	}
	conn, err := db.NewPostgresConnection(ctx, pgCfg)
	if err != nil {
		return err
	}
	if err := repository.Migrate(ctx, conn); err != nil {
		conn.Close()
		return err
	}
	b.closers = append(b.closers, func() { conn.Close() })
	b.orders = repository.NewOrderRepo(conn)
	b.reviews = repository.NewReviewRepo(conn)
	b.promos = repository.NewPromoRepo(conn)
	b.loyalty = repository.NewLoyaltyRepo(conn)
	return nil
}

func openMongo(ctx context.Context, b *backend) error {
	mCfg, err := db.LoadMongoConfig()
	if err != nil {
		return err
	}
	client, err := db.NewMongoClient(ctx, mCfg)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })
	ledger := repository.NewMongoLedger(client, mCfg.Database)
	b.promos, b.loyalty = ledger, ledger
	return nil
}

func openRedis(ctx context.Context, b *backend) error {
	rCfg, err := db.LoadRedisConfig()
	if err != nil {
		return err
	}
	client, err := db.NewRedisClient(ctx, rCfg)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, func() { _ = client.Close() })
	ledger := repository.NewRedisLedger(client)
	b.promos, b.loyalty = ledger, ledger
	return nil
}
