package mailrest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(handler http.Handler) (*Provider, *httptest.Server) {
	srv := httptest.NewServer(handler)
	p := New(Config{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		From:    "noreply@example.com",
	}, zap.NewNop())
	return p, srv
}

func TestSendAccepted(t *testing.T) {
	var gotAuth string
	var gotPayload mailPayload
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, sendPath, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("X-Message-Id", "msg-abc-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "user@example.com",
		Subject:   "Invoice ready",
		Body:      "plain body",
		HTMLBody:  "<b>html body</b>",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "msg-abc-123", res.ProviderMessageID)
	assert.Equal(t, providerdomain.DeliveryStatusSent, res.Status)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	require.Len(t, gotPayload.Personalizations, 1)
	require.Len(t, gotPayload.Personalizations[0].To, 1)
	assert.Equal(t, "user@example.com", gotPayload.Personalizations[0].To[0].Email)
	assert.Equal(t, "noreply@example.com", gotPayload.From.Email)
	assert.Equal(t, "Invoice ready", gotPayload.Subject)
	require.Len(t, gotPayload.Content, 2)
	assert.Equal(t, "text/plain", gotPayload.Content[0].Type)
	assert.Equal(t, "text/html", gotPayload.Content[1].Type)
}

func TestSendUnauthorized(t *testing.T) {
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "user@example.com",
		Body:      "hi",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, providerdomain.ErrorCodeInvalidCredentials, res.ErrorCode)
}

func TestSendBadRequest(t *testing.T) {
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "user@example.com",
		Body:      "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, providerdomain.ErrorCodeInvalidParameters, res.ErrorCode)
}

func TestSendNetworkFailure(t *testing.T) {
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "user@example.com",
		Body:      "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, providerdomain.ErrorCodeAPIError, res.ErrorCode)
	assert.Equal(t, providerdomain.DeliveryStatusFailed, res.Status)
}

func TestSendInvalidRecipientShortCircuits(t *testing.T) {
	called := false
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "nope",
		Body:      "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, providerdomain.ErrorCodeInvalidRecipient, res.ErrorCode)
	assert.False(t, called)
}
