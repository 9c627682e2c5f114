package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/relaya/internal/config"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	preferencedomain "github.com/smallbiznis/relaya/internal/preference/domain"
	routerdomain "github.com/smallbiznis/relaya/internal/router/domain"
	templatedomain "github.com/smallbiznis/relaya/internal/template/domain"
	"github.com/smallbiznis/relaya/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouterService struct {
	dispatchReq *routerdomain.DispatchRequest
	result      *routerdomain.DispatchResult
	bulkResult  *routerdomain.BulkDispatchResult
	err         error
}

func (f *fakeRouterService) Dispatch(ctx context.Context, req routerdomain.DispatchRequest) (*routerdomain.DispatchResult, error) {
	f.dispatchReq = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRouterService) DispatchBulk(ctx context.Context, req routerdomain.BulkDispatchRequest) (*routerdomain.BulkDispatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bulkResult, nil
}

func (f *fakeRouterService) Retry(ctx context.Context, tenantID, messageID snowflake.ID) (*routerdomain.DispatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeCreditService struct {
	balance    int64
	topUps     []int64
	lastActor  string
	refunds    []int64
	adjusts    []int64
	txs        []creditdomain.CreditTransaction
	addErr     error
	balanceErr error
}

func (f *fakeCreditService) GetBalance(ctx context.Context, tenantID snowflake.ID) (int64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeCreditService) HasSufficient(ctx context.Context, tenantID snowflake.ID, required int64) (bool, error) {
	return f.balance >= required, nil
}

func (f *fakeCreditService) AddCredits(ctx context.Context, tenantID snowflake.ID, amount int64, ref creditdomain.GrantRef, actor, description string) (int64, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	f.topUps = append(f.topUps, amount)
	f.lastActor = actor
	f.balance += amount
	return f.balance, nil
}

func (f *fakeCreditService) DeductCredits(ctx context.Context, tenantID snowflake.ID, amount int64, actor, description string, metadata map[string]any) (int64, error) {
	f.balance -= amount
	return f.balance, nil
}

func (f *fakeCreditService) Refund(ctx context.Context, tenantID snowflake.ID, amount int64, reason, actor string) (int64, error) {
	f.refunds = append(f.refunds, amount)
	f.balance += amount
	return f.balance, nil
}

func (f *fakeCreditService) AdminAdjust(ctx context.Context, tenantID snowflake.ID, amount int64, actor, reason string) (int64, error) {
	f.adjusts = append(f.adjusts, amount)
	f.balance += amount
	return f.balance, nil
}

func (f *fakeCreditService) ListTransactions(ctx context.Context, tenantID snowflake.ID, page pagination.Pagination) ([]creditdomain.CreditTransaction, *pagination.PageInfo, error) {
	return f.txs, &pagination.PageInfo{}, nil
}

func (f *fakeCreditService) VerifyChain(ctx context.Context, tenantID snowflake.ID) error {
	return nil
}

type fakeOutboundService struct {
	msg *outbounddomain.OutboundMessage
	err error
}

func (f *fakeOutboundService) CreatePending(ctx context.Context, msg *outbounddomain.OutboundMessage) error {
	return nil
}

func (f *fakeOutboundService) Get(ctx context.Context, tenantID, id snowflake.ID) (*outbounddomain.OutboundMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.msg, nil
}

func (f *fakeOutboundService) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*outbounddomain.OutboundMessage, error) {
	return f.msg, f.err
}

func (f *fakeOutboundService) MarkSent(ctx context.Context, id snowflake.ID, outcome outbounddomain.SendOutcome, sentAt time.Time) error {
	return nil
}

func (f *fakeOutboundService) MarkFailed(ctx context.Context, id snowflake.ID, outcome outbounddomain.SendOutcome) error {
	return nil
}

func (f *fakeOutboundService) MarkRejected(ctx context.Context, id snowflake.ID, outcome outbounddomain.SendOutcome) error {
	return nil
}

func (f *fakeOutboundService) MarkInvalid(ctx context.Context, id snowflake.ID, reason string) error {
	return nil
}

func (f *fakeOutboundService) MarkDelivered(ctx context.Context, id snowflake.ID, deliveredAt time.Time) error {
	return nil
}

func (f *fakeOutboundService) RequeueForRetry(ctx context.Context, id snowflake.ID) (*outbounddomain.OutboundMessage, error) {
	return f.msg, f.err
}

func (f *fakeOutboundService) ListByTenant(ctx context.Context, tenantID snowflake.ID, filter outbounddomain.ListFilter, page pagination.Pagination) ([]outbounddomain.OutboundMessage, *pagination.PageInfo, error) {
	if f.msg == nil {
		return nil, &pagination.PageInfo{}, nil
	}
	return []outbounddomain.OutboundMessage{*f.msg}, &pagination.PageInfo{}, nil
}

func (f *fakeOutboundService) ListRetryable(ctx context.Context, limit int) ([]outbounddomain.OutboundMessage, error) {
	return nil, nil
}

func (f *fakeOutboundService) ListAwaitingReport(ctx context.Context, limit int) ([]outbounddomain.OutboundMessage, error) {
	return nil, nil
}

type fakeTemplateService struct {
	tpl *templatedomain.NotificationTemplate
	err error
}

func (f *fakeTemplateService) Upsert(ctx context.Context, tpl *templatedomain.NotificationTemplate) error {
	f.tpl = tpl
	return f.err
}

func (f *fakeTemplateService) Resolve(ctx context.Context, tenantID snowflake.ID, code string) (*templatedomain.NotificationTemplate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tpl, nil
}

func (f *fakeTemplateService) Render(tpl *templatedomain.NotificationTemplate, channel outbounddomain.Channel, variables map[string]string) (*templatedomain.RenderedContent, error) {
	return &templatedomain.RenderedContent{Body: tpl.SMSBody}, nil
}

func (f *fakeTemplateService) List(ctx context.Context, tenantID snowflake.ID) ([]templatedomain.NotificationTemplate, error) {
	if f.tpl == nil {
		return nil, nil
	}
	return []templatedomain.NotificationTemplate{*f.tpl}, nil
}

func (f *fakeTemplateService) Delete(ctx context.Context, tenantID snowflake.ID, code string) error {
	return f.err
}

type fakePreferenceService struct {
	pref *preferencedomain.NotificationPreference
}

func (f *fakePreferenceService) Get(ctx context.Context, tenantID, userID snowflake.ID) (*preferencedomain.NotificationPreference, error) {
	if f.pref == nil {
		return &preferencedomain.NotificationPreference{
			TenantID: tenantID, UserID: userID,
			EmailEnabled: true, SMSEnabled: true, InAppEnabled: true, PushEnabled: true,
		}, nil
	}
	return f.pref, nil
}

func (f *fakePreferenceService) Upsert(ctx context.Context, pref *preferencedomain.NotificationPreference) error {
	f.pref = pref
	return nil
}

func (f *fakePreferenceService) Allows(ctx context.Context, tenantID, userID snowflake.ID, channel outbounddomain.Channel, notificationType string, now time.Time) (bool, error) {
	return true, nil
}

type fakeFeatureService struct {
	gates map[string]bool
}

func (f *fakeFeatureService) HasFeature(ctx context.Context, tenantID snowflake.ID, code string) (bool, error) {
	return f.gates[code], nil
}

func (f *fakeFeatureService) SetFeature(ctx context.Context, tenantID snowflake.ID, code string, enabled bool) error {
	if f.gates == nil {
		f.gates = map[string]bool{}
	}
	f.gates[code] = enabled
	return nil
}

type serverFixture struct {
	srv      *Server
	router   *fakeRouterService
	credits  *fakeCreditService
	outbound *fakeOutboundService
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	router := &fakeRouterService{}
	credits := &fakeCreditService{}
	outbound := &fakeOutboundService{}

	srv := &Server{
		engine:        engine,
		cfg:           config.Config{Environment: "test"},
		genID:         node,
		creditSvc:     credits,
		outboundSvc:   outbound,
		routerSvc:     router,
		templateSvc:   &fakeTemplateService{},
		preferenceSvc: &fakePreferenceService{},
		featureSvc:    &fakeFeatureService{},
	}
	srv.registerAPIRoutes()

	return &serverFixture{srv: srv, router: router, credits: credits, outbound: outbound}
}

func (f *serverFixture) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)
	return w
}

func tenantHeaders() map[string]string {
	return map[string]string{tenantHeader: "1001", actorHeader: "ops@acme"}
}

func TestTenantHeaderRequired(t *testing.T) {
	f := newServerFixture(t)

	w := f.request(t, http.MethodGet, "/v1/credits/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.request(t, http.MethodGet, "/v1/credits/balance", nil, map[string]string{tenantHeader: "not-a-number"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendMessagePassesTenantAndActor(t *testing.T) {
	f := newServerFixture(t)
	f.router.result = &routerdomain.DispatchResult{
		Success:     true,
		OutboundID:  snowflake.ID(42),
		Status:      outbounddomain.StatusSent,
		CreditsUsed: 1,
	}

	w := f.request(t, http.MethodPost, "/v1/messages", map[string]any{
		"channel":   "sms",
		"recipient": "05301234567",
		"body":      "hello",
	}, tenantHeaders())

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, f.router.dispatchReq)
	assert.Equal(t, snowflake.ID(1001), f.router.dispatchReq.TenantID)
	assert.Equal(t, "ops@acme", f.router.dispatchReq.Actor)
	assert.Equal(t, outbounddomain.ChannelSMS, f.router.dispatchReq.Channel)

	var resp struct {
		Data dispatchResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Success)
	assert.Equal(t, "42", resp.Data.MessageID)
	assert.Equal(t, int64(1), resp.Data.CreditsUsed)
}

func TestSendMessageInsufficientCredit(t *testing.T) {
	f := newServerFixture(t)
	f.router.err = &creditdomain.InsufficientCreditError{Required: 3, Available: 1}

	w := f.request(t, http.MethodPost, "/v1/messages", map[string]any{
		"channel":   "sms",
		"recipient": "05301234567",
		"body":      "hello",
	}, tenantHeaders())

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_credit", resp.Error.Type)
	require.NotNil(t, resp.Error.Required)
	assert.Equal(t, int64(3), *resp.Error.Required)
	require.NotNil(t, resp.Error.Available)
	assert.Equal(t, int64(1), *resp.Error.Available)
}

func TestSendMessageErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"feature gate", routerdomain.ErrFeatureNotEnabled, http.StatusForbidden},
		{"opted out", routerdomain.ErrRecipientOptedOut, http.StatusForbidden},
		{"rate limited", routerdomain.ErrRateLimited, http.StatusTooManyRequests},
		{"invalid recipient", routerdomain.ErrInvalidRecipient, http.StatusBadRequest},
		{"empty content", routerdomain.ErrEmptyContent, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServerFixture(t)
			f.router.err = tc.err

			w := f.request(t, http.MethodPost, "/v1/messages", map[string]any{
				"channel":   "sms",
				"recipient": "05301234567",
				"body":      "hello",
			}, tenantHeaders())
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestGetMessageNotFound(t *testing.T) {
	f := newServerFixture(t)
	f.outbound.err = outbounddomain.ErrMessageNotFound

	w := f.request(t, http.MethodGet, "/v1/messages/42", nil, tenantHeaders())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.request(t, http.MethodGet, "/v1/messages/not-an-id", nil, tenantHeaders())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryExhaustedConflicts(t *testing.T) {
	f := newServerFixture(t)
	f.router.err = outbounddomain.ErrRetryExhausted

	w := f.request(t, http.MethodPost, "/v1/messages/42/retry", nil, tenantHeaders())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBulkRequiresRecipients(t *testing.T) {
	f := newServerFixture(t)

	w := f.request(t, http.MethodPost, "/v1/messages/bulk", map[string]any{
		"body": "hello",
	}, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkDispatchResponse(t *testing.T) {
	f := newServerFixture(t)
	f.router.bulkResult = &routerdomain.BulkDispatchResult{
		Results: []routerdomain.DispatchResult{
			{Success: true, OutboundID: snowflake.ID(1), Status: outbounddomain.StatusSent, CreditsUsed: 1},
			{Success: false, OutboundID: snowflake.ID(2), Status: outbounddomain.StatusFailed, ErrorCode: "INVALID_RECIPIENT"},
		},
		CreditsUsed: 1,
	}

	w := f.request(t, http.MethodPost, "/v1/messages/bulk", map[string]any{
		"recipients": []string{"05301234567", "bogus"},
		"body":       "hello",
	}, tenantHeaders())

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Results     []dispatchResponse `json:"results"`
			CreditsUsed int64              `json:"credits_used"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Results, 2)
	assert.Equal(t, int64(1), resp.Data.CreditsUsed)
	assert.Equal(t, "INVALID_RECIPIENT", resp.Data.Results[1].ErrorCode)
}

func TestCreditEndpoints(t *testing.T) {
	f := newServerFixture(t)
	f.credits.balance = 5

	w := f.request(t, http.MethodGet, "/v1/credits/balance", nil, tenantHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":5`)

	w = f.request(t, http.MethodPost, "/v1/credits/topup", map[string]any{
		"amount":      100,
		"description": "starter pack",
	}, tenantHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.credits.topUps, 1)
	assert.Equal(t, int64(100), f.credits.topUps[0])
	assert.Equal(t, "ops@acme", f.credits.lastActor)

	w = f.request(t, http.MethodPost, "/v1/credits/refund", map[string]any{
		"amount": 10,
		"reason": "gateway outage",
	}, tenantHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.credits.refunds, 1)

	w = f.request(t, http.MethodPost, "/v1/credits/adjust", map[string]any{
		"amount": -7,
		"reason": "migration correction",
	}, tenantHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.credits.adjusts, 1)
	assert.Equal(t, int64(-7), f.credits.adjusts[0])
}

func TestTopUpInvalidAmount(t *testing.T) {
	f := newServerFixture(t)
	f.credits.addErr = creditdomain.ErrInvalidAmount

	w := f.request(t, http.MethodPost, "/v1/credits/topup", map[string]any{
		"amount": -5,
	}, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMessagesRejectsUnknownChannel(t *testing.T) {
	f := newServerFixture(t)

	w := f.request(t, http.MethodGet, "/v1/messages?channel=pigeon", nil, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutPreferencesDefaultsToOptIn(t *testing.T) {
	f := newServerFixture(t)

	w := f.request(t, http.MethodPut, "/v1/preferences/77", map[string]any{
		"email_enabled":     false,
		"quiet_hours_start": "22:00",
		"quiet_hours_end":   "08:00",
	}, tenantHeaders())

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data preferencesResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Data.EmailEnabled)
	assert.True(t, resp.Data.SMSEnabled, "omitted flags stay opted in")
	assert.True(t, resp.Data.PushEnabled)
	assert.Equal(t, "22:00", resp.Data.QuietHoursStart)
}

func TestSetFeatureRoundTrip(t *testing.T) {
	f := newServerFixture(t)

	w := f.request(t, http.MethodPut, "/v1/features/channel.email", map[string]any{
		"enabled": true,
	}, tenantHeaders())

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":true`)
}

func TestTemplatePreviewNotFound(t *testing.T) {
	f := newServerFixture(t)
	f.srv.templateSvc = &fakeTemplateService{err: templatedomain.ErrTemplateNotFound}

	w := f.request(t, http.MethodPost, "/v1/templates/welcome/preview", map[string]any{
		"channel": "sms",
	}, tenantHeaders())
	assert.Equal(t, http.StatusNotFound, w.Code)
}
