package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	authDelivery "crm-backend/internal/auth/delivery"
	authUsecase "crm-backend/internal/auth/usecase"
	emailDelivery "crm-backend/internal/email/delivery"
	emaildto "crm-backend/internal/email/dto"
	emailUsecase "crm-backend/internal/email/usecase"
	insightDelivery "crm-backend/internal/insight/delivery"
	insightUsecase "crm-backend/internal/insight/usecase"
	notificationdomain "crm-backend/internal/notification/domain"
	notificationDelivery "crm-backend/internal/notification/delivery"
	"crm-backend/pkg/config"

	"github.com/stretchr/testify/assert"
)

type nopTokens struct{}

func (nopTokens) SaveToken(context.Context, string, string) error { return nil }
func (nopTokens) ListTokens(context.Context) ([]string, error)    { return nil, nil }
func (nopTokens) DeleteToken(context.Context, string) error       { return nil }

type countingSync struct{ runs int }

func (s *countingSync) Run(context.Context) (*emailUsecase.SyncResult, error) {
	s.runs++
	return &emailUsecase.SyncResult{Mailbox: "INBOX"}, nil
}

type countingOutbound struct{ calls int }

func (o *countingOutbound) RecordOutbound(context.Context, emaildto.RecordOutboundRequest) (*emaildto.RecordOutboundResponse, error) {
	o.calls++
	return &emaildto.RecordOutboundResponse{}, nil
}

type countingInsights struct{ calls int }

func (i *countingInsights) Summarize(context.Context, string, bool) (*insightUsecase.Outcome, error) {
	i.calls++
	return &insightUsecase.Outcome{}, nil
}

func (i *countingInsights) Classify(context.Context, string, bool) (*insightUsecase.Outcome, error) {
	i.calls++
	return &insightUsecase.Outcome{}, nil
}

func (i *countingInsights) ClassifyBatch(context.Context) (*insightUsecase.BatchResult, error) {
	i.calls++
	return &insightUsecase.BatchResult{}, nil
}

type nopNotifications struct{}

func (nopNotifications) Create(context.Context, *notificationdomain.Notification) error { return nil }
func (nopNotifications) List(context.Context, bool, int, int) ([]notificationdomain.Notification, int64, error) {
	return nil, 0, nil
}
func (nopNotifications) MarkRead(context.Context, string) (bool, error) { return true, nil }
func (nopNotifications) MarkAllRead(context.Context) (int64, error)     { return 0, nil }

func newTestHandler(secret string) (*Handler, *countingSync, *countingOutbound, *countingInsights) {
	cfg := &config.Config{
		GinMode:         "test",
		CronSecret:      secret,
		OwnerEmail:      "me@crm.dev",
		JWTSecret:       "test-secret",
		JWTAccessExpiry: time.Minute,
	}
	sync := &countingSync{}
	outbound := &countingOutbound{}
	insights := &countingInsights{}
	authUc := authUsecase.NewAuthUsecase(nopTokens{}, cfg)

	h := NewHandler(authUc, Handlers{
		Auth:         authDelivery.NewAuthHandler(authUc),
		Sync:         emailDelivery.NewSyncHandler(sync, outbound),
		Insight:      insightDelivery.NewInsightHandler(insights),
		Notification: notificationDelivery.NewNotificationHandler(nopNotifications{}),
	}, cfg)
	return h, sync, outbound, insights
}

func TestCronRoutesRequireSecret(t *testing.T) {
	h, sync, outbound, insights := newTestHandler("s3cret")
	r := h.Engine()

	for _, path := range []string{"/api/cron/sync", "/api/cron/classify", "/api/emails/outbound"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	assert.Zero(t, sync.runs)
	assert.Zero(t, outbound.calls)
	assert.Zero(t, insights.calls)

	req := httptest.NewRequest(http.MethodPost, "/api/cron/sync", nil)
	req.Header.Set(authDelivery.CronSecretHeader, "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sync.runs)
}

func TestEmptyCronSecretRejectsEverything(t *testing.T) {
	h, sync, _, _ := newTestHandler("")
	r := h.Engine()

	req := httptest.NewRequest(http.MethodPost, "/api/cron/sync", nil)
	req.Header.Set(authDelivery.CronSecretHeader, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, sync.runs)
}

func TestOwnerRoutesRequireToken(t *testing.T) {
	h, _, _, insights := newTestHandler("s3cret")
	r := h.Engine()

	for _, path := range []string{"/api/contacts/c1/summary", "/api/contacts/c1/classification", "/api/notifications", "/api/auth/me"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	assert.Zero(t, insights.calls)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPreflightShortCircuits(t *testing.T) {
	h, _, _, _ := newTestHandler("s3cret")
	r := h.Engine()

	req := httptest.NewRequest(http.MethodOptions, "/api/cron/sync", nil)
	req.Header.Set("Origin", "https://crm.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://crm.example", w.Header().Get("Access-Control-Allow-Origin"))
}
