package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/internal/notifications"
	gatewaywebhook "github.com/angelmondragon/commission-escrow/internal/webhooks/gateway"
	pkgAuth "github.com/angelmondragon/commission-escrow/pkg/auth"
	"github.com/angelmondragon/commission-escrow/pkg/config"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/metrics"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubIngester struct {
	signature string
	payload   string
	result    gatewaywebhook.Result
	err       error
}

func (s *stubIngester) Ingest(ctx context.Context, payload []byte, signature string) (gatewaywebhook.Result, error) {
	s.signature, s.payload = signature, string(payload)
	return s.result, s.err
}

type stubNotifications struct {
	notifications.Service
	listedFor uuid.UUID
}

func (s *stubNotifications) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	s.listedFor = params.SellerID
	return &notifications.ListResult{}, nil
}

type stubLedger struct {
	ledger.Service
}

func (stubLedger) SellerBalance(ctx context.Context, sellerID uuid.UUID) (ledger.Balance, error) {
	return ledger.Balance{SellerID: sellerID, Escrowed: 450}, nil
}

type stubRetrier struct{ calls int }

func (s *stubRetrier) RetryHeldBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	s.calls++
	return 2, nil
}

type memoryStore struct{ data map[string]string }

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key], _ = value.(string)
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

type fixture struct {
	handler  http.Handler
	ingester *stubIngester
	notes    *stubNotifications
	retrier  *stubRetrier
	cfg      *config.Config
}

func newFixture(t *testing.T, redisErr error) *fixture {
	t.Helper()
	cfg := &config.Config{
		App:     config.AppConfig{Env: "dev"},
		JWT:     config.JWTConfig{Secret: "secret", Issuer: "marketplace"},
		Webhook: config.WebhookConfig{SignatureHeader: "X-Gateway-Signature", MaxBodyBytes: 64},
	}
	registry := prometheus.NewRegistry()
	metrics.NewWebhookMetrics(registry).IncResult("accepted", "charge.success")

	f := &fixture{
		ingester: &stubIngester{result: gatewaywebhook.Result{Status: enums.WebhookEventStatusAccepted, EventID: "evt_1"}},
		notes:    &stubNotifications{},
		retrier:  &stubRetrier{},
		cfg:      cfg,
	}
	f.handler = NewRouter(RouterParams{
		Config:        cfg,
		Logger:        logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard}),
		DB:            stubPinger{},
		Redis:         stubPinger{err: redisErr},
		Idempotency:   &memoryStore{data: map[string]string{}},
		Gatherer:      registry,
		Webhooks:      f.ingester,
		Notifications: f.notes,
		Ledger:        stubLedger{},
		Payouts:       f.retrier,
	})
	return f
}

func (f *fixture) token(t *testing.T, role enums.ActorRole, sellerID uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(f.cfg.JWT, time.Now(), time.Hour, pkgAuth.AccessTokenPayload{SellerID: sellerID, Role: role})
	require.NoError(t, err)
	return "Bearer " + token
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/health/live", nil)).Code)
	resp := f.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "dev", resp.Header().Get("X-Commission-Env"))

	down := newFixture(t, errors.New("redis down"))
	resp = down.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), `"redis":"unavailable"`)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "commission_webhook_events_total")
}

func TestWebhookRoute(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("X-Gateway-Signature", "abc123")
	resp := f.do(req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "abc123", f.ingester.signature)
	assert.Equal(t, `{"id":"evt_1"}`, f.ingester.payload)
	var body struct {
		Data gatewaywebhook.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, enums.WebhookEventStatusAccepted, body.Data.Status)

	cases := map[string]struct {
		err  error
		want int
	}{
		"bad signature": {gatewaywebhook.ErrInvalidSignature, http.StatusBadRequest},
		"malformed":     {pkgerrors.New(pkgerrors.CodeValidation, "bad"), http.StatusBadRequest},
		"transient":     {pkgerrors.New(pkgerrors.CodeDependency, "db down"), http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f.ingester.err = tc.err
			resp := f.do(httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`)))
			assert.Equal(t, tc.want, resp.Code)
		})
	}

	f.ingester.err = nil
	resp = f.do(httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(strings.Repeat("x", 65))))
	assert.Equal(t, http.StatusBadRequest, resp.Code, "oversized bodies are rejected")
}

func TestSellerRoutesRequireSellerToken(t *testing.T) {
	f := newFixture(t, nil)
	sellerID := uuid.New()

	resp := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("Authorization", f.token(t, enums.ActorRoleOperator, uuid.Nil))
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=5", nil)
	req.Header.Set("Authorization", f.token(t, enums.ActorRoleSeller, sellerID))
	assert.Equal(t, http.StatusOK, f.do(req).Code)
	assert.Equal(t, sellerID, f.notes.listedFor)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
	req.Header.Set("Authorization", f.token(t, enums.ActorRoleSeller, sellerID))
	resp = f.do(req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"escrowed":450`)
}

func TestAdminRetryIsOperatorOnlyAndIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/admin/v1/payouts/batches/" + uuid.NewString() + "/retry"

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", f.token(t, enums.ActorRoleSeller, uuid.New()))
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)

	operator := f.token(t, enums.ActorRoleOperator, uuid.Nil)
	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", operator)
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code, "Idempotency-Key is required")

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", operator)
		req.Header.Set("Idempotency-Key", "retry-1")
		resp := f.do(req)
		assert.Equal(t, http.StatusAccepted, resp.Code)
		assert.Contains(t, resp.Body.String(), `"entries_released":2`)
	}
	assert.Equal(t, 1, f.retrier.calls)
}
