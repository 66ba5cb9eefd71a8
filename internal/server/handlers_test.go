package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate-bot/internal/access"
	"paygate-bot/internal/bot"
	"paygate-bot/internal/db"
	"paygate-bot/internal/metrics"
	"paygate-bot/internal/models"
	"paygate-bot/internal/payment"
	"paygate-bot/internal/reconciler"
	"paygate-bot/pkg/logger"
)

const (
	testSecret       = "yookassa-secret"
	testConfirmation = "c0nf1rm"
	testVKSecret     = "vk-secret"
	testResourceURL  = "https://vk.com/private_group"
	testBaseURL      = "https://bot.example.com"
)

type recordingMessenger struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (m *recordingMessenger) SendMessage(_ context.Context, userID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[int64][]string)
	}
	m.sent[userID] = append(m.sent[userID], text)
	return nil
}

func (m *recordingMessenger) last(userID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.sent[userID]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type stubCreator struct{}

func (stubCreator) CreatePayment(_ context.Context, userID int64, _ decimal.Decimal, _ string) (*payment.Checkout, error) {
	id := fmt.Sprintf("pay-%d", userID)
	return &payment.Checkout{PaymentID: id, URL: "https://yoomoney.example/" + id}, nil
}

type stubStripe struct {
	n   *payment.StripeNotification
	err error
}

func (s stubStripe) ParseWebhook([]byte, string) (*payment.StripeNotification, error) {
	return s.n, s.err
}

type brokenStats struct{}

func (brokenStats) GetStats(context.Context) (*models.Stats, error) {
	return nil, errors.New("connection refused")
}

type testEnv struct {
	store     *db.SQLiteDB
	messenger *recordingMessenger
	deps      Deps
	srv       *httptest.Server
}

func newTestEnv(t *testing.T, customize func(*Deps)) *testEnv {
	t.Helper()
	store, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	newToken, err := access.NewTokenFunc()
	require.NoError(t, err)

	log := logger.NewNop()
	m := metrics.New()
	messenger := &recordingMessenger{}
	svc := access.NewService(store, newToken, m)
	link := func(token string) string { return bot.AccessLink(testBaseURL, token, false) }
	price := bot.Price{Amount: decimal.RequireFromString("499.00"), Currency: "RUB"}
	h := bot.NewHandlers(store, stubCreator{}, messenger, price, link, log)

	deps := Deps{
		Verifier:   svc,
		Reconciler: reconciler.New(svc, store, messenger, link, log, m),
		Router:     bot.NewRouter(log, messenger, h.All()...),
		Stats:      store,
		Metrics:    m,
	}
	if customize != nil {
		customize(&deps)
	}

	settings := Settings{
		YooKassaSecret: testSecret,
		VKConfirmation: testConfirmation,
		VKSecret:       testVKSecret,
		ResourceURL:    testResourceURL,
	}
	srv := httptest.NewServer(NewHandler(deps, settings, log))
	t.Cleanup(srv.Close)

	return &testEnv{store: store, messenger: messenger, deps: deps, srv: srv}
}

func (e *testEnv) post(t *testing.T, path, body string, header map[string]string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return e.do(t, req)
}

func (e *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	require.NoError(t, err)
	return e.do(t, req)
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, string) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func vkMessage(userID int64, text, secret string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"type":     "message_new",
		"group_id": 1,
		"secret":   secret,
		"object": map[string]interface{}{
			"message": map[string]interface{}{"from_id": userID, "text": text},
		},
	})
	return string(b)
}

func yooEvent(event, paymentID, status string, userID int64) string {
	return fmt.Sprintf(
		`{"type":"notification","event":%q,"object":{"id":%q,"status":%q,"metadata":{"user_vk_id":"%d"}}}`,
		event, paymentID, status, userID,
	)
}

func signed(body string) map[string]string {
	return map[string]string{payment.SignatureHeader: payment.Sign(testSecret, []byte(body))}
}

func decodeVerify(t *testing.T, body string) verifyResponse {
	t.Helper()
	var v verifyResponse
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestFullPaymentScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	const user = int64(1001)

	code, body := env.post(t, "/vk_callback", `{"type":"confirmation","group_id":1}`, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, testConfirmation, body)

	code, body = env.post(t, "/vk_callback", vkMessage(user, "купить", testVKSecret), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = env.post(t, "/vk_callback", vkMessage(user, "user@example.com", testVKSecret), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, env.messenger.last(user), "https://yoomoney.example/pay-1001")

	event := yooEvent("payment.succeeded", "pay-1001", "succeeded", user)
	code, _ = env.post(t, "/yookassa_webhook", event, map[string]string{payment.SignatureHeader: "sha256=deadbeef"})
	assert.Equal(t, http.StatusForbidden, code)
	paid, err := env.store.IsPaid(ctx, user)
	require.NoError(t, err)
	assert.False(t, paid)

	code, _ = env.post(t, "/yookassa_webhook", event, signed(event))
	require.Equal(t, http.StatusOK, code)

	paid, err = env.store.IsPaid(ctx, user)
	require.NoError(t, err)
	assert.True(t, paid)
	token, err := env.store.GetToken(ctx, user)
	require.NoError(t, err)
	assert.Contains(t, env.messenger.last(user), "/access?token="+token)

	code, body = env.get(t, "/verify?token="+token)
	require.Equal(t, http.StatusOK, code)
	v := decodeVerify(t, body)
	assert.True(t, v.Valid)
	assert.Equal(t, models.VerdictOK, v.Message)
	require.NotNil(t, v.UserID)
	assert.Equal(t, user, *v.UserID)
	assert.Equal(t, testResourceURL, v.ResourceURL)

	code, body = env.get(t, "/access?token="+token)
	assert.Equal(t, http.StatusForbidden, code)
	v = decodeVerify(t, body)
	assert.False(t, v.Valid)
	assert.Equal(t, models.VerdictAlreadyUsed, v.Message)
	assert.Empty(t, v.ResourceURL)

	code, body = env.get(t, "/health")
	require.Equal(t, http.StatusOK, code)
	var health healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, int64(1), health.Stats.PaidUsers)
	assert.Equal(t, int64(1), health.Stats.AccessedUsers)

	code, body = env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `paygate_webhooks_total{outcome="granted",source="yookassa"} 1`)
	assert.Contains(t, body, `paygate_webhooks_total{outcome="bad_signature",source="yookassa"} 1`)
}

func TestYooKassaWebhookRejections(t *testing.T) {
	env := newTestEnv(t, nil)

	code, _ := env.post(t, "/yookassa_webhook", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.post(t, "/yookassa_webhook", `{"event":"payment.succeeded"}`, nil)
	assert.Equal(t, http.StatusForbidden, code)

	malformed := `{"event":"payment.succeeded"}`
	code, _ = env.post(t, "/webhook/yookassa", malformed, signed(malformed))
	assert.Equal(t, http.StatusBadRequest, code)

	unknown := yooEvent("payment.succeeded", "ghost", "succeeded", 5)
	code, _ = env.post(t, "/yookassa_webhook", unknown, signed(unknown))
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, env.messenger.last(5))
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Stripe = stubStripe{err: errors.New("unreachable")} })

	// Valid JSON padded past the limit, signed so only the size can fail it.
	huge := `{"event":"payment.succeeded","object":{"id":"p1"},"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	code, _ := env.post(t, "/yookassa_webhook", huge, signed(huge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)

	code, _ = env.post(t, "/webhook/stripe", huge, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)

	code, body := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `paygate_webhooks_total{outcome="too_large",source="yookassa"} 1`)
}

func TestYooKassaWebhookCanceled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	require.NoError(t, env.store.RecordAttempt(ctx, 7, "pay-7", decimal.RequireFromString("499"), "RUB"))

	event := yooEvent("payment.canceled", "pay-7", "canceled", 7)
	code, _ := env.post(t, "/yookassa_webhook", event, signed(event))
	require.Equal(t, http.StatusOK, code)

	p, err := env.store.GetPayment(ctx, "pay-7")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCanceled, p.Status)
	assert.NotEmpty(t, env.messenger.last(7))
}

func TestVKCallbackRejectsWrongSecret(t *testing.T) {
	env := newTestEnv(t, nil)

	code, _ := env.post(t, "/vk_callback", vkMessage(1, "привет", "wrong"), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Empty(t, env.messenger.last(1))

	code, _ = env.post(t, "/vk_callback", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestVerifyParameters(t *testing.T) {
	env := newTestEnv(t, nil)

	code, _ := env.get(t, "/verify")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := env.get(t, "/verify?token=never-issued")
	assert.Equal(t, http.StatusForbidden, code)
	v := decodeVerify(t, body)
	assert.Equal(t, models.VerdictNotFound, v.Message)
	assert.Nil(t, v.UserID)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Stats = brokenStats{} })

	code, _ := env.get(t, "/health")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestStripeWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) { d.Stripe = stubStripe{err: errors.New("no signatures found")} })
		code, _ := env.post(t, "/webhook/stripe", `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("completed session grants access", func(t *testing.T) {
		n := &payment.StripeNotification{EventType: "checkout.session.completed", SessionID: "cs_1", Status: models.PaymentSucceeded, UserID: 3}
		env := newTestEnv(t, func(d *Deps) { d.Stripe = stubStripe{n: n} })
		require.NoError(t, env.store.RecordAttempt(ctx, 3, "cs_1", decimal.RequireFromString("499"), "RUB"))

		code, _ := env.post(t, "/webhook/stripe", `{}`, nil)
		require.Equal(t, http.StatusOK, code)
		paid, err := env.store.IsPaid(ctx, 3)
		require.NoError(t, err)
		assert.True(t, paid)
	})

	t.Run("event without transition", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) { d.Stripe = stubStripe{n: &payment.StripeNotification{EventType: "customer.created"}} })
		code, _ := env.post(t, "/webhook/stripe", `{}`, nil)
		assert.Equal(t, http.StatusOK, code)
	})
}

func TestOptionalRoutesAreNotMounted(t *testing.T) {
	env := newTestEnv(t, nil)

	code, _ := env.post(t, "/webhook/stripe", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.post(t, "/telegram_callback", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
