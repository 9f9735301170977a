package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var e Envelope
	require.NoError(t, json.Unmarshal(msg, &e))
	return e
}

func TestHub_RoutesByRole(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	admin := dial(t, srv, "role=admin")
	alice := dial(t, srv, "role=customer&customer_id=alice")
	bridge := dial(t, srv, "role=bridge")
	require.Eventually(t, func() bool { return hub.Subscribers() == 3 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.NotifyCustomer(ctx, models.CustomerNotification{CustomerID: "bob", Kind: models.NotifyETA, Text: "for bob"}))
	require.NoError(t, hub.NotifyCustomer(ctx, models.CustomerNotification{CustomerID: "alice", Kind: models.NotifyReady, Text: "for alice"}))
	require.NoError(t, hub.NotifyAdmin(ctx, models.AdminNotification{OrderID: "o1", Text: "new order"}))

	e := readEnvelope(t, admin)
	require.NotNil(t, e.Admin)
	assert.Equal(t, "o1", e.Admin.OrderID)

	e = readEnvelope(t, alice)
	require.NotNil(t, e.Customer)
	assert.Equal(t, "for alice", e.Customer.Text)

	var kinds []string
	for i := 0; i < 3; i++ {
		kinds = append(kinds, readEnvelope(t, bridge).Type)
	}
	assert.Equal(t, []string{"customer", "customer", "admin"}, kinds)
}

func TestHub_NoSubscribersIsNotAnError(t *testing.T) {
	hub := NewHub(zap.NewNop())
	assert.NoError(t, hub.NotifyAdmin(context.Background(), models.AdminNotification{OrderID: "o1"}))
}

func TestHub_RejectsBadSubscription(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	for _, q := range []string{"role=customer", "role=chef", ""} {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + q
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err, q)
		require.NotNil(t, resp, q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		_ = resp.Body.Close()
	}
}

type failingNotifier struct{}

func (failingNotifier) NotifyAdmin(context.Context, models.AdminNotification) error {
	return assert.AnError
}

func (failingNotifier) NotifyCustomer(context.Context, models.CustomerNotification) error {
	return assert.AnError
}

func TestFanout(t *testing.T) {
	f := Fanout{NewLogNotifier(zap.NewNop()), NewHub(zap.NewNop())}
	assert.NoError(t, f.NotifyAdmin(context.Background(), models.AdminNotification{OrderID: "o1"}))

	f = append(f, failingNotifier{})
	assert.ErrorIs(t, f.NotifyCustomer(context.Background(), models.CustomerNotification{CustomerID: "A"}), assert.AnError)
}
