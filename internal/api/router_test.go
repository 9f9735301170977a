package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/api/middleware"
	"github.com/Cheertaboi/storefront-order-service/internal/models"
	"github.com/Cheertaboi/storefront-order-service/internal/notify"
	"github.com/Cheertaboi/storefront-order-service/internal/repository"
	"github.com/Cheertaboi/storefront-order-service/internal/service"
)

type testServer struct {
	store   *repository.MemoryStore
	handler http.Handler
}

func newTestServer(t *testing.T, withLedger bool, submitPerMinute int) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	require.NoError(t, store.UpsertPromo(context.Background(), models.PromoCode{
		Code: "WELCOME10", DiscountRate: 0.1, RemainingUses: 1,
	}))

	dispatcher := service.NewDispatcher(notify.NewLogNotifier(logger), nil, logger)
	var (
		promos  *service.PromoLedger
		loyalty *service.LoyaltyLedger
	)
	if withLedger {
		promos = service.NewPromoLedger(store, nil, service.DefaultRetryPolicy(), logger)
		loyalty = service.NewLoyaltyLedger(store, service.DefaultRetryPolicy(), logger)
	}
	reviews := service.NewReviewFlow(store, dispatcher, nil, logger)
	machine := service.NewOrderMachine(store, promos, loyalty, reviews, dispatcher,
		service.MachineConfig{LoyaltyThreshold: 10}, logger)

	return &testServer{
		store: store,
		handler: NewRouter(Deps{
			Machine:       machine,
			Promos:        promos,
			Reviews:       reviews,
			SubmitLimiter: middleware.NewRateLimiter(submitPerMinute),
			LedgerBackend: "memory",
			Logger:        logger,
		}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

type orderBody struct {
	models.Order
	AvailableEvents []string `json:"available_events"`
	Ignored         bool     `json:"ignored"`
}

func submission(customerID, promo string) models.OrderSubmission {
	return models.OrderSubmission{
		CustomerID:    customerID,
		DeliveryMode:  models.DeliveryPickup,
		PaymentMethod: "kaspi",
		PromoCode:     promo,
		Items: []models.SubmissionItem{
			{Name: "Cappuccino", UnitPrice: 1200, Quantity: 1},
			{Name: "Croissant", UnitPrice: 800, Quantity: 1},
		},
	}
}

func createOrder(t *testing.T, s *testServer, sub models.OrderSubmission) orderBody {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/orders", sub)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var o orderBody
	decode(t, rec, &o)
	return o
}

func TestHealth(t *testing.T) {
	rec := newTestServer(t, true, 0).do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","ledger_backend":"memory"}`, rec.Body.String())

	rec = newTestServer(t, false, 0).do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","ledger_backend":"memory"}`, rec.Body.String())
}

func TestCreateOrderAppliesPromo(t *testing.T) {
	s := newTestServer(t, true, 0)

	o := createOrder(t, s, submission("c1", "welcome10"))
	assert.Equal(t, models.StateNew, o.State)
	assert.Equal(t, models.PromoRedeemed, o.PromoStatus)
	assert.Equal(t, int64(2000), o.Subtotal)
	assert.Equal(t, int64(200), o.DiscountAmount)
	assert.Equal(t, int64(1800), o.TotalAmount)
	assert.ElementsMatch(t, []string{"accept", "reject"}, o.AvailableEvents)

	// the only use is gone
	o2 := createOrder(t, s, submission("c2", "WELCOME10"))
	assert.Equal(t, models.PromoDenied, o2.PromoStatus)
	assert.Equal(t, int64(2000), o2.TotalAmount)
}

func TestCreateOrderValidation(t *testing.T) {
	s := newTestServer(t, true, 0)

	sub := submission("c1", "")
	sub.Items = nil
	rec := s.do(t, http.MethodPost, "/orders", sub)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "validation_failed", body["error"])
	assert.Equal(t, "items", body["field"])

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, true, 0)
	o := createOrder(t, s, submission("c1", ""))
	base := "/orders/" + o.ID

	rec := s.do(t, http.MethodPost, base+"/ready", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "ready before accept")

	rec = s.do(t, http.MethodPost, base+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/eta", map[string]interface{}{"minutes": 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "7 is not a preset")

	rec = s.do(t, http.MethodPost, base+"/eta", map[string]interface{}{"text": "14:30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got orderBody
	decode(t, rec, &got)
	assert.Equal(t, models.StateAwaitingFulfillment, got.State)
	require.NotNil(t, got.ETA)
	assert.Equal(t, "14:30", got.ETA.ClockTime)

	rec = s.do(t, http.MethodPost, base+"/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/dispatched", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "pickup orders are not dispatched")

	rec = s.do(t, http.MethodPost, base+"/given", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.Equal(t, models.StateGiven, got.State)
	assert.True(t, got.LoyaltyAccrued)
	assert.Empty(t, got.AvailableEvents)

	// a second click on a finished order is acknowledged and ignored
	rec = s.do(t, http.MethodPost, base+"/given", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var again orderBody
	decode(t, rec, &again)
	assert.True(t, again.Ignored)
	assert.Equal(t, got.Version, again.Version)

	rec = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectRestoresPromo(t *testing.T) {
	s := newTestServer(t, true, 0)
	o := createOrder(t, s, submission("c1", "WELCOME10"))

	rec := s.do(t, http.MethodPost, "/orders/"+o.ID+"/reject", map[string]string{"reason": "out of milk"})
	require.Equal(t, http.StatusOK, rec.Code)
	var got orderBody
	decode(t, rec, &got)
	assert.Equal(t, models.StateRejected, got.State)
	assert.Equal(t, models.PromoCancelled, got.PromoStatus)

	p, _, err := s.store.GetPromo(context.Background(), "WELCOME10")
	require.NoError(t, err)
	assert.Equal(t, 1, p.RemainingUses)
}

func TestConfirmReceiptOwnership(t *testing.T) {
	s := newTestServer(t, true, 0)
	sub := submission("c1", "")
	sub.DeliveryMode = models.DeliveryDelivery
	sub.Address = "Dostyk 5"
	o := createOrder(t, s, sub)
	base := "/orders/" + o.ID

	for _, step := range []struct {
		path string
		body interface{}
	}{
		{"/accept", nil},
		{"/eta", map[string]int{"minutes": 30}},
		{"/ready", nil},
		{"/dispatched", nil},
	} {
		rec := s.do(t, http.MethodPost, base+step.path, step.body)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", step.path, rec.Body.String())
	}

	rec := s.do(t, http.MethodPost, base+"/received", map[string]string{"customer_id": "someone-else"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/received", map[string]string{"customer_id": "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var got orderBody
	decode(t, rec, &got)
	assert.Equal(t, models.StateReceived, got.State)
}

func TestUnknownOrder(t *testing.T) {
	s := newTestServer(t, true, 0)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/orders/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/orders/nope/accept", nil).Code)
}

func TestPromoCheck(t *testing.T) {
	s := newTestServer(t, true, 0)

	rec := s.do(t, http.MethodPost, "/promos/check", map[string]string{"code": "welcome10", "customer_id": "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true,"status":"ok","discount_rate":0.1}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/promos/check", map[string]string{"code": "NOPE", "customer_id": "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":false,"status":"not_found"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/promos/check", map[string]string{"code": "WELCOME10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// check never consumes a use
	p, _, err := s.store.GetPromo(context.Background(), "WELCOME10")
	require.NoError(t, err)
	assert.Equal(t, 1, p.RemainingUses)
}

func TestDegradedMode(t *testing.T) {
	s := newTestServer(t, false, 0)

	rec := s.do(t, http.MethodPost, "/promos/check", map[string]string{"code": "WELCOME10", "customer_id": "c1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	o := createOrder(t, s, submission("c1", "WELCOME10"))
	assert.Equal(t, int64(2000), o.TotalAmount)
	assert.NotEqual(t, models.PromoRedeemed, o.PromoStatus)
}

func TestReviewConversation(t *testing.T) {
	s := newTestServer(t, true, 0)

	rec := s.do(t, http.MethodGet, "/reviews/c1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, http.MethodPost, "/reviews/c1/rating", map[string]interface{}{"category": "service", "value": 5})
	assert.Equal(t, http.StatusConflict, rec.Code)

	o := createOrder(t, s, submission("c1", ""))
	base := "/orders/" + o.ID
	for _, path := range []string{"/accept", "/ready", "/given"} {
		if path == "/ready" {
			require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/eta", map[string]int{"minutes": 10}).Code)
		}
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+path, nil).Code, path)
	}

	var sess models.ReviewSession
	rec = s.do(t, http.MethodGet, "/reviews/c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &sess)
	assert.Equal(t, models.ReviewAwaitingServiceRating, sess.Step)

	rec = s.do(t, http.MethodPost, "/reviews/c1/rating", map[string]interface{}{"category": "food", "value": 5})
	assert.Equal(t, http.StatusConflict, rec.Code, "food before service")

	rec = s.do(t, http.MethodPost, "/reviews/c1/rating", map[string]interface{}{"category": "service", "value": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/reviews/c1/rating", map[string]interface{}{"category": "service", "value": 5}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/reviews/c1/rating", map[string]interface{}{"category": "food", "value": 4}).Code)

	rec = s.do(t, http.MethodPost, "/reviews/c1/tip", map[string]interface{}{"accept": true})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &sess)
	assert.Equal(t, models.ReviewAwaitingTipTarget, sess.Step)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/reviews/c1/tip-target", map[string]string{"recipient": "barista"}).Code)

	rec = s.do(t, http.MethodPost, "/reviews/c1/comment", map[string]interface{}{"text": "great coffee"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &sess)
	assert.Equal(t, models.ReviewFinalized, sess.Step)

	reviews := s.store.Reviews()
	require.Len(t, reviews, 1)
	assert.Equal(t, "barista", reviews[0].TipTarget)
	assert.Equal(t, "great coffee", reviews[0].Comment)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodGet, "/reviews/c1", nil).Code)
}

func TestSubmitRateLimited(t *testing.T) {
	s := newTestServer(t, true, 2)

	createOrder(t, s, submission("c1", ""))
	createOrder(t, s, submission("c1", ""))
	rec := s.do(t, http.MethodPost, "/orders", submission("c1", ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// other customers keep their own budget
	createOrder(t, s, submission("c2", ""))
}
