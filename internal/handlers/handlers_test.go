package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billing_backend/internal/appErrors"
	"billing_backend/internal/auth"
	"billing_backend/internal/config"
	"billing_backend/internal/dto"
	"billing_backend/internal/handlers"
	"billing_backend/internal/models"
	"billing_backend/internal/provider"
	"billing_backend/internal/routes"
	"billing_backend/internal/services"
	"billing_backend/internal/validator"
)

const testSecret = "handler-test-secret"

var setupOnce sync.Once

// stubSubscriptionService lets each test plug in just the method it hits.
type stubSubscriptionService struct {
	createFn   func(ctx context.Context, userID string, req *dto.CreateSubscriptionRequest) (*dto.CreateSubscriptionResponse, error)
	getFn      func(ctx context.Context, orgID string) (*models.Subscription, error)
	activateFn func(ctx context.Context, orgID, userID string) (*dto.ActivateSubscriptionResponse, error)
	cancelFn   func(ctx context.Context, orgID, userID, reason string) (*dto.CancelSubscriptionResponse, error)
}

func (s *stubSubscriptionService) CreateSubscriptions(ctx context.Context, userID string, req *dto.CreateSubscriptionRequest) (*dto.CreateSubscriptionResponse, error) {
	return s.createFn(ctx, userID, req)
}

func (s *stubSubscriptionService) ActivateSubscription(ctx context.Context, orgID, userID string) (*dto.ActivateSubscriptionResponse, error) {
	return s.activateFn(ctx, orgID, userID)
}

func (s *stubSubscriptionService) CancelSubscription(ctx context.Context, orgID, userID, reason string) (*dto.CancelSubscriptionResponse, error) {
	return s.cancelFn(ctx, orgID, userID, reason)
}

func (s *stubSubscriptionService) ReactivateSubscription(context.Context, string, string) (*dto.ReactivateSubscriptionResponse, error) {
	return &dto.ReactivateSubscriptionResponse{}, nil
}

func (s *stubSubscriptionService) AddModule(context.Context, string, string, *dto.AddModuleRequest) (*dto.ProratedChargeResponse, error) {
	return &dto.ProratedChargeResponse{}, nil
}

func (s *stubSubscriptionService) AddResource(context.Context, string, string, *dto.AddResourceRequest) (*dto.ProratedChargeResponse, error) {
	return &dto.ProratedChargeResponse{}, nil
}

func (s *stubSubscriptionService) GetSubscription(ctx context.Context, orgID string) (*models.Subscription, error) {
	return s.getFn(ctx, orgID)
}

func (s *stubSubscriptionService) PortalSession(context.Context, string) (string, error) {
	return "https://portal.example/session", nil
}

func (s *stubSubscriptionService) ExpireSubscription(context.Context, string, models.CancelReason) error {
	return nil
}

type stubUsageService struct {
	recordFn func(ctx context.Context, orgID string, req *dto.RecordUsageRequest) (*models.Usage, error)
}

func (s *stubUsageService) RecordUsage(ctx context.Context, orgID string, req *dto.RecordUsageRequest) (*models.Usage, error) {
	return s.recordFn(ctx, orgID, req)
}

func (s *stubUsageService) ListUsage(context.Context, string, int) ([]models.Usage, error) {
	return nil, nil
}

func (s *stubUsageService) ListInvoices(context.Context, string, int) ([]models.Invoice, error) {
	return nil, nil
}

type stubWebhookService struct {
	processFn func(ctx context.Context, payload []byte, signature string) error
}

func (s *stubWebhookService) ProcessWebhook(ctx context.Context, payload []byte, signature string) error {
	return s.processFn(ctx, payload, signature)
}

func (s *stubWebhookService) HandleEvent(context.Context, *provider.Event) error {
	return nil
}

func newRouter(t *testing.T, svc *services.ServiceContainer) *gin.Engine {
	t.Helper()
	setupOnce.Do(func() {
		gin.SetMode(gin.TestMode)
		cfg := &config.Config{}
		cfg.JWT.Secret = testSecret
		config.AppConfig = cfg
		require.NoError(t, validator.Register())
	})
	router := gin.New()
	routes.RegisterRoutes(router, handlers.NewAppHandlers(svc))
	return router
}

func container(sub *stubSubscriptionService, usage *stubUsageService, wh *stubWebhookService) *services.ServiceContainer {
	if sub == nil {
		sub = &stubSubscriptionService{}
	}
	if usage == nil {
		usage = &stubUsageService{}
	}
	if wh == nil {
		wh = &stubWebhookService{}
	}
	return &services.ServiceContainer{
		SubscriptionService: sub,
		UsageService:        usage,
		WebhookService:      wh,
	}
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	claims := &auth.Claims{
		UserID: userID,
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestSubscriptionRoutes_RequireAuth(t *testing.T) {
	router := newRouter(t, container(nil, nil, nil))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/subscriptions/org-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))

	rec = doJSON(t, router, http.MethodGet, "/api/v1/subscriptions/org-1", "Bearer garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))
}

func TestCreateSubscriptions_PassesCallerIdentity(t *testing.T) {
	var gotUserID string
	sub := &stubSubscriptionService{
		createFn: func(_ context.Context, userID string, req *dto.CreateSubscriptionRequest) (*dto.CreateSubscriptionResponse, error) {
			gotUserID = userID
			return &dto.CreateSubscriptionResponse{
				Subscriptions: []dto.SubscriptionView{{OrganizationID: req.Organizations[0], Status: models.SubscriptionStatusTrial}},
				CheckoutURL:   "https://checkout.example/s",
			}, nil
		},
	}
	router := newRouter(t, container(sub, nil, nil))

	body := dto.CreateSubscriptionRequest{
		Organizations: []string{"org-1"},
		Items:         []dto.OrderItem{{ModuleKey: "crm", MonthlyPrice: 30}},
		PayerEmail:    "payer@example.com",
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/subscriptions/subscribe", bearerToken(t, "user-42"), body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "user-42", gotUserID)

	var resp dto.CreateSubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Subscriptions, 1)
	assert.Equal(t, models.SubscriptionStatusTrial, resp.Subscriptions[0].Status)
}

func TestCreateSubscriptions_RejectsBadModuleKey(t *testing.T) {
	router := newRouter(t, container(nil, nil, nil))

	body := dto.CreateSubscriptionRequest{
		Organizations: []string{"org-1"},
		Items:         []dto.OrderItem{{ModuleKey: "Not A Key!", MonthlyPrice: 30}},
		PayerEmail:    "payer@example.com",
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/subscriptions/subscribe", bearerToken(t, "user-1"), body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, rec))
}

func TestCancelSubscription_MapsDomainError(t *testing.T) {
	sub := &stubSubscriptionService{
		cancelFn: func(context.Context, string, string, string) (*dto.CancelSubscriptionResponse, error) {
			return nil, appErrors.ErrAlreadyCancelled
		},
	}
	router := newRouter(t, container(sub, nil, nil))

	rec := doJSON(t, router, http.MethodPut, "/api/v1/subscriptions/org-1/cancel",
		bearerToken(t, "user-1"), dto.CancelSubscriptionRequest{Reason: "too expensive"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_CANCELLED", errorCode(t, rec))
}

func TestRecordUsage_ValidatesType(t *testing.T) {
	router := newRouter(t, container(nil, nil, nil))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/subscriptions/org-1/usage",
		bearerToken(t, "user-1"), map[string]interface{}{"type": "carrier_pigeon", "quantity": 1})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, rec))
}

func TestRecordUsage_Created(t *testing.T) {
	usage := &stubUsageService{
		recordFn: func(_ context.Context, orgID string, req *dto.RecordUsageRequest) (*models.Usage, error) {
			return &models.Usage{SubscriptionID: "sub-1", Type: req.Type, Quantity: req.Quantity, Amount: 3}, nil
		},
	}
	router := newRouter(t, container(nil, usage, nil))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/subscriptions/org-1/usage",
		bearerToken(t, "user-1"), dto.RecordUsageRequest{Type: models.UsageTypeSMS, Quantity: 3, UnitPrice: 1})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var got models.Usage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3.0, got.Amount)
}

func TestProviderWebhook_NoAuthButSignatureForwarded(t *testing.T) {
	var gotPayload []byte
	var gotSignature string
	wh := &stubWebhookService{
		processFn: func(_ context.Context, payload []byte, signature string) error {
			gotPayload = payload
			gotSignature = signature
			return nil
		},
	}
	router := newRouter(t, container(nil, nil, wh))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())
	assert.Equal(t, `{"id":"evt_1"}`, string(gotPayload))
	assert.Equal(t, "t=1,v1=abc", gotSignature)
}

func TestProviderWebhook_BadSignature(t *testing.T) {
	wh := &stubWebhookService{
		processFn: func(context.Context, []byte, string) error {
			return appErrors.New(appErrors.CodeInvalidSignature, "signature verification failed", http.StatusBadRequest)
		},
	}
	router := newRouter(t, container(nil, nil, wh))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/provider", "", map[string]string{"id": "evt_1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(t, rec))
}
