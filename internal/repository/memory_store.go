package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

type redemptionKey struct {
	customerID string
	code       string
}

// keyedMutex hands out one mutex per key. Entries are never removed; the
// key space (promo codes, customers) is small and long lived.
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// MemoryStore keeps every store in process memory. Promo transactions are
// serialized per code and buffer their writes until commit, so a failing
// transaction leaves nothing behind.
type MemoryStore struct {
	mu          sync.RWMutex
	promos      map[string]models.PromoCode
	redemptions map[redemptionKey]models.PromoRedemption
	accounts    map[string]models.LoyaltyAccount
	orders      map[string]*models.Order
	reviews     []models.ReviewSession

	codeLocks    keyedMutex
	accountLocks keyedMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		promos:      make(map[string]models.PromoCode),
		redemptions: make(map[redemptionKey]models.PromoRedemption),
		accounts:    make(map[string]models.LoyaltyAccount),
		orders:      make(map[string]*models.Order),
	}
}

// --- promo ---

type memPromoTx struct {
	code       string
	customerID string

	promo      models.PromoCode
	promoFound bool
	red        models.PromoRedemption
	redFound   bool
	dirty      bool
}

func (t *memPromoTx) Promo(ctx context.Context) (models.PromoCode, bool, error) {
	return t.promo, t.promoFound, nil
}

func (t *memPromoTx) Redemption(ctx context.Context) (models.PromoRedemption, bool, error) {
	return t.red, t.redFound, nil
}

func (t *memPromoTx) ApplyRedemption(ctx context.Context, r models.PromoRedemption) error {
	if !t.promoFound || t.promo.RemainingUses <= 0 || t.redFound {
		return fmt.Errorf("apply redemption %s/%s: %w", t.customerID, t.code, ErrLedgerInvariant)
	}
	t.promo.RemainingUses--
	r.Code = t.code
	r.CustomerID = t.customerID
	t.red = r
	t.redFound = true
	t.dirty = true
	return nil
}

func (t *memPromoTx) RevertRedemption(ctx context.Context) error {
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

func (s *MemoryStore) WithPromoTx(ctx context.Context, code, customerID string, fn func(tx PromoTx) error) error {
	unlock := s.codeLocks.lock(code)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	key := redemptionKey{customerID: customerID, code: code}
	s.mu.RLock()
	tx := &memPromoTx{code: code, customerID: customerID}
	tx.promo, tx.promoFound = s.promos[code]
	tx.red, tx.redFound = s.redemptions[key]
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.promoFound {
		s.promos[code] = tx.promo
	}
	if tx.redFound {
		s.redemptions[key] = tx.red
	} else {
		delete(s.redemptions, key)
	}
	return nil
}

func (s *MemoryStore) GetPromo(ctx context.Context, code string) (models.PromoCode, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.promos[code]
	return p, ok, nil
}

func (s *MemoryStore) HasRedemption(ctx context.Context, customerID, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.redemptions[redemptionKey{customerID: customerID, code: code}]
	return ok, nil
}

func (s *MemoryStore) ListPromos(ctx context.Context) ([]models.PromoCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PromoCode, 0, len(s.promos))
	for _, p := range s.promos {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) UpsertPromo(ctx context.Context, p models.PromoCode) error {
	unlock := s.codeLocks.lock(p.Code)
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promos[p.Code] = p
	return nil
}

// RedemptionCount is used by tests to check the one-record invariant.
func (s *MemoryStore) RedemptionCount(code string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.redemptions {
		if k.code == code {
			n++
		}
	}
	return n
}

// --- loyalty ---

type memLoyaltyTx struct {
	account models.LoyaltyAccount
	dirty   bool
}

func (t *memLoyaltyTx) Account(ctx context.Context) (models.LoyaltyAccount, error) {
	return t.account, nil
}

func (t *memLoyaltyTx) SaveAccount(ctx context.Context, a models.LoyaltyAccount) error {
	if a.Points < 0 {
		return fmt.Errorf("save account %s: negative points: %w", a.CustomerID, ErrLedgerInvariant)
	}
	t.account = a
	t.dirty = true
	return nil
}

func (s *MemoryStore) WithLoyaltyTx(ctx context.Context, customerID string, fn func(tx LoyaltyTx) error) error {
	unlock := s.accountLocks.lock(customerID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	acc, ok := s.accounts[customerID]
	s.mu.RUnlock()
	if !ok {
		acc = models.LoyaltyAccount{CustomerID: customerID}
	}

	tx := &memLoyaltyTx{account: acc}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.dirty {
		s.mu.Lock()
		s.accounts[customerID] = tx.account
		s.mu.Unlock()
	}
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, customerID string) (models.LoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[customerID]
	if !ok {
		return models.LoyaltyAccount{CustomerID: customerID}, nil
	}
	return acc, nil
}

// --- orders ---

func (s *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("create order %s: already exists", o.ID)
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) CompareAndSwapOrder(ctx context.Context, o *models.Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	o.Version = expectedVersion + 1
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *MemoryStore) ListOrdersByPromoStatus(ctx context.Context, status models.PromoStatus) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Order
	for _, o := range s.orders {
		if o.PromoStatus == status {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- reviews ---

func (s *MemoryStore) SaveReview(ctx context.Context, r models.ReviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, r)
	return nil
}

func (s *MemoryStore) Reviews() []models.ReviewSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ReviewSession(nil), s.reviews...)
}
