package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

// RedisLedger stores each promo code, redemption and loyalty account in its
// own hash. Transactions WATCH the keys they read and commit through
// MULTI/EXEC; a concurrent change aborts the EXEC and surfaces as
// ErrTxConflict.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func redisPromoKey(code string) string {
	return "promo:" + code
}

func redisRedemptionKey(customerID, code string) string {
	return "redemption:" + code + ":" + customerID
}

func redisAccountKey(customerID string) string {
	return "loyalty:" + customerID
}

func parsePromo(code string, fields map[string]string) (models.PromoCode, error) {
	rate, err := strconv.ParseFloat(fields["discount_rate"], 64)
	if err != nil {
		return models.PromoCode{}, fmt.Errorf("promo %s: bad discount_rate: %w", code, err)
	}
	uses, err := strconv.Atoi(fields["remaining_uses"])
	if err != nil {
		return models.PromoCode{}, fmt.Errorf("promo %s: bad remaining_uses: %w", code, err)
	}
	return models.PromoCode{Code: code, DiscountRate: rate, RemainingUses: uses}, nil
}

type redisPromoTx struct {
	code       string
	customerID string

	promo      models.PromoCode
	promoFound bool
	red        models.PromoRedemption
	redFound   bool
	dirty      bool
}

func (t *redisPromoTx) load(ctx context.Context, tx *redis.Tx) error {
	fields, err := tx.HGetAll(ctx, redisPromoKey(t.code)).Result()
	if err != nil {
		return fmt.Errorf("read promo %s: %w", t.code, err)
	}
	if len(fields) > 0 {
		if t.promo, err = parsePromo(t.code, fields); err != nil {
			return err
		}
		t.promoFound = true
	}

	fields, err = tx.HGetAll(ctx, redisRedemptionKey(t.customerID, t.code)).Result()
	if err != nil {
		return fmt.Errorf("read redemption: %w", err)
	}
	if len(fields) > 0 {
		ts, _ := time.Parse(time.RFC3339Nano, fields["timestamp"])
		t.red = models.PromoRedemption{
			CustomerID: t.customerID,
			Code:       t.code,
			OrderID:    fields["order_id"],
			Timestamp:  ts,
		}
		t.redFound = true
	}
	return nil
}

func (t *redisPromoTx) Promo(context.Context) (models.PromoCode, bool, error) {
	return t.promo, t.promoFound, nil
}

func (t *redisPromoTx) Redemption(context.Context) (models.PromoRedemption, bool, error) {
	return t.red, t.redFound, nil
}

func (t *redisPromoTx) ApplyRedemption(_ context.Context, r models.PromoRedemption) error {
	if !t.promoFound || t.promo.RemainingUses <= 0 || t.redFound {
		return fmt.Errorf("apply redemption %s/%s: %w", t.customerID, t.code, ErrLedgerInvariant)
	}
	t.promo.RemainingUses--
	r.CustomerID = t.customerID
	r.Code = t.code
	t.red = r
	t.redFound = true
	t.dirty = true
	return nil
}

func (t *redisPromoTx) RevertRedemption(context.Context) error {
	if !t.redFound {
		return fmt.Errorf("revert redemption %s/%s: %w", t.customerID, t.code, ErrLedgerInvariant)
	}
	if t.promoFound {
		t.promo.RemainingUses++
	}
	t.red = models.PromoRedemption{}
	t.redFound = false
	t.dirty = true
	return nil
}

func (t *redisPromoTx) flush(ctx context.Context, pipe redis.Pipeliner) {
	if t.promoFound {
		pipe.HSet(ctx, redisPromoKey(t.code), "remaining_uses", t.promo.RemainingUses)
	}
	rk := redisRedemptionKey(t.customerID, t.code)
	if t.redFound {
		pipe.HSet(ctx, rk,
			"customer_id", t.customerID,
			"code", t.code,
			"order_id", t.red.OrderID,
			"timestamp", t.red.Timestamp.UTC().Format(time.RFC3339Nano),
		)
	} else {
		pipe.Del(ctx, rk)
	}
}

func (l *RedisLedger) WithPromoTx(ctx context.Context, code, customerID string, fn func(tx PromoTx) error) error {
	pk, rk := redisPromoKey(code), redisRedemptionKey(customerID, code)
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		ptx := &redisPromoTx{code: code, customerID: customerID}
		if err := ptx.load(ctx, tx); err != nil {
			return err
		}
		if err := fn(ptx); err != nil {
			return err
		}
		if !ptx.dirty {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ptx.flush(ctx, pipe)
			return nil
		})
		return err
	}, pk, rk)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("promo %s: %w", code, ErrTxConflict)
	}
	return err
}

func (l *RedisLedger) GetPromo(ctx context.Context, code string) (models.PromoCode, bool, error) {
	fields, err := l.client.HGetAll(ctx, redisPromoKey(code)).Result()
	if err != nil {
		return models.PromoCode{}, false, err
	}
	if len(fields) == 0 {
		return models.PromoCode{}, false, nil
	}
	p, err := parsePromo(code, fields)
	if err != nil {
		return models.PromoCode{}, false, err
	}
	return p, true, nil
}

func (l *RedisLedger) HasRedemption(ctx context.Context, customerID, code string) (bool, error) {
	n, err := l.client.Exists(ctx, redisRedemptionKey(customerID, code)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisLedger) ListPromos(ctx context.Context) ([]models.PromoCode, error) {
	var promos []models.PromoCode
	iter := l.client.Scan(ctx, 0, "promo:*", 100).Iterator()
	for iter.Next(ctx) {
		code := strings.TrimPrefix(iter.Val(), "promo:")
		p, ok, err := l.GetPromo(ctx, code)
		if err != nil {
			return nil, err
		}
		if ok {
			promos = append(promos, p)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return promos, nil
}

func (l *RedisLedger) UpsertPromo(ctx context.Context, p models.PromoCode) error {
	return l.client.HSet(ctx, redisPromoKey(p.Code),
		"discount_rate", strconv.FormatFloat(p.DiscountRate, 'f', -1, 64),
		"remaining_uses", p.RemainingUses,
	).Err()
}

type redisLoyaltyTx struct {
	account models.LoyaltyAccount
	dirty   bool
}

func (t *redisLoyaltyTx) Account(context.Context) (models.LoyaltyAccount, error) {
	return t.account, nil
}

func (t *redisLoyaltyTx) SaveAccount(_ context.Context, a models.LoyaltyAccount) error {
	if a.Points < 0 {
		return fmt.Errorf("save account %s: negative points: %w", a.CustomerID, ErrLedgerInvariant)
	}
	t.account = a
	t.dirty = true
	return nil
}

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (l *RedisLedger) readAccount(ctx context.Context, c hashReader, customerID string) (models.LoyaltyAccount, error) {
	acc := models.LoyaltyAccount{CustomerID: customerID}
	fields, err := c.HGetAll(ctx, redisAccountKey(customerID)).Result()
	if err != nil {
		return acc, fmt.Errorf("read account %s: %w", customerID, err)
	}
	if len(fields) == 0 {
		return acc, nil
	}
	if acc.Points, err = strconv.Atoi(fields["points"]); err != nil {
		return acc, fmt.Errorf("account %s: bad points: %w", customerID, err)
	}
	acc.AwardsGranted, _ = strconv.Atoi(fields["awards_granted"])
	return acc, nil
}

func (l *RedisLedger) WithLoyaltyTx(ctx context.Context, customerID string, fn func(tx LoyaltyTx) error) error {
	key := redisAccountKey(customerID)
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		acc, err := l.readAccount(ctx, tx, customerID)
		if err != nil {
			return err
		}
		ltx := &redisLoyaltyTx{account: acc}
		if err := fn(ltx); err != nil {
			return err
		}
		if !ltx.dirty {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "points", ltx.account.Points, "awards_granted", ltx.account.AwardsGranted)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("account %s: %w", customerID, ErrTxConflict)
	}
	return err
}

func (l *RedisLedger) GetAccount(ctx context.Context, customerID string) (models.LoyaltyAccount, error) {
	return l.readAccount(ctx, l.client, customerID)
}
