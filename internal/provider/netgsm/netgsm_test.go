package netgsm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(handler http.Handler) (*Provider, *httptest.Server) {
	srv := httptest.NewServer(handler)
	p := New(Config{
		BaseURL:  srv.URL,
		UserCode: "acme",
		Password: "secret",
		Header:   "ACME",
	}, zap.NewNop(), nil)
	return p, srv
}

func TestSendSuccess(t *testing.T) {
	var gotQuery url.Values
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, sendPath, r.URL.Path)
		gotQuery = r.URL.Query()
		io.WriteString(w, "1234567890123")
	}))
	defer srv.Close()

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "+90 530 123 45 67",
		Body:      "hello world",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "1234567890123", res.ProviderMessageID)
	assert.Equal(t, providerdomain.DeliveryStatusSent, res.Status)
	assert.Equal(t, int64(1), res.CreditsUsed)

	assert.Equal(t, "acme", gotQuery.Get("usercode"))
	assert.Equal(t, "secret", gotQuery.Get("password"))
	assert.Equal(t, "5301234567", gotQuery.Get("gsmno"))
	assert.Equal(t, "hello world", gotQuery.Get("message"))
	assert.Equal(t, "ACME", gotQuery.Get("msgheader"))
	assert.Equal(t, "TR", gotQuery.Get("dil"))
}

func TestSendGatewayErrorCodes(t *testing.T) {
	cases := []struct {
		code string
		want providerdomain.ErrorCode
	}{
		{"20", providerdomain.ErrorCodeMessageTooLong},
		{"30", providerdomain.ErrorCodeInvalidCredentials},
		{"40", providerdomain.ErrorCodeInvalidHeader},
		{"70", providerdomain.ErrorCodeInvalidParameters},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tc.code)
			}))
			defer srv.Close()

			res, err := p.Send(context.Background(), providerdomain.SendRequest{
				Recipient: "5301234567",
				Body:      "hello",
			})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, providerdomain.DeliveryStatusFailed, res.Status)
			assert.Equal(t, tc.want, res.ErrorCode)
			assert.Equal(t, int64(0), res.CreditsUsed)
		})
	}
}

func TestSendNetworkFailure(t *testing.T) {
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "5301234567",
		Body:      "hello",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, providerdomain.DeliveryStatusFailed, res.Status)
	assert.Equal(t, providerdomain.ErrorCodeAPIError, res.ErrorCode)
}

func TestSendBulk(t *testing.T) {
	var gotBody string
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, bulkPath, r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		io.WriteString(w, "00 987654")
	}))
	defer srv.Close()

	res, err := p.SendBulk(context.Background(), providerdomain.BulkRequest{
		Recipients: []string{"5301111111", "not-a-number", "5302222222"},
		Body:       "kampanya",
	})
	require.NoError(t, err)
	assert.Equal(t, "987654", res.BatchID)
	require.Len(t, res.Results, 3)

	assert.True(t, res.Results[0].Result.Success)
	assert.False(t, res.Results[1].Result.Success)
	assert.Equal(t, providerdomain.ErrorCodeInvalidRecipient, res.Results[1].Result.ErrorCode)
	assert.True(t, res.Results[2].Result.Success)

	// Two accepted recipients at one segment each.
	assert.Equal(t, int64(2), res.CreditsUsed)
	assert.Equal(t, 2, res.Accepted())

	assert.Contains(t, gotBody, "<mainbody>")
	assert.Contains(t, gotBody, "<usercode>acme</usercode>")
	assert.Contains(t, gotBody, "<![CDATA[kampanya]]>")
	assert.Contains(t, gotBody, "<no>5301111111</no>")
	assert.Contains(t, gotBody, "<no>5302222222</no>")
	assert.NotContains(t, gotBody, "not-a-number")
}

func TestSendBulkGatewayRejection(t *testing.T) {
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "30")
	}))
	defer srv.Close()

	res, err := p.SendBulk(context.Background(), providerdomain.BulkRequest{
		Recipients: []string{"5301111111"},
		Body:       "hello",
	})
	require.NoError(t, err)
	assert.Empty(t, res.BatchID)
	assert.Equal(t, int64(0), res.CreditsUsed)
	require.Len(t, res.Results, 1)
	assert.Equal(t, providerdomain.ErrorCodeInvalidCredentials, res.Results[0].Result.ErrorCode)
}

func TestGetDeliveryReport(t *testing.T) {
	cases := []struct {
		body string
		want providerdomain.DeliveryStatus
	}{
		{"0", providerdomain.DeliveryStatusPending},
		{"1", providerdomain.DeliveryStatusDelivered},
		{"2", providerdomain.DeliveryStatusFailed},
		{"3", providerdomain.DeliveryStatusRejected},
		{"4", providerdomain.DeliveryStatusSent},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, reportPath, r.URL.Path)
				require.Equal(t, "987654", r.URL.Query().Get("bulkid"))
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			res, err := p.GetDeliveryReport(context.Background(), "987654")
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Status)
		})
	}
}

func TestGetAccountBalance(t *testing.T) {
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, balancePath, r.URL.Path)
		io.WriteString(w, "485,50")
	}))
	defer srv.Close()

	info, err := p.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 485.50, info.Amount, 0.001)
	assert.Equal(t, "TRY", info.Currency)
}

func TestGetAccountBalanceRejected(t *testing.T) {
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "30")
	}))
	defer srv.Close()

	_, err := p.GetAccountBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(providerdomain.ErrorCodeInvalidCredentials))
}

func TestNormalizeAndValidatePhone(t *testing.T) {
	assert.Equal(t, "5301234567", providerdomain.NormalizePhone("+905301234567"))
	assert.Equal(t, "5301234567", providerdomain.NormalizePhone("0530 123 45 67"))
	assert.Equal(t, "5301234567", providerdomain.NormalizePhone("90 (530) 123-45-67"))
	assert.Equal(t, "5301234567", providerdomain.NormalizePhone("5301234567"))

	assert.True(t, providerdomain.ValidatePhone("+905301234567"))
	assert.True(t, providerdomain.ValidatePhone("05301234567"))
	assert.False(t, providerdomain.ValidatePhone("2121234567"))
	assert.False(t, providerdomain.ValidatePhone("530123"))
	assert.False(t, providerdomain.ValidatePhone("530123456a"))
	assert.False(t, providerdomain.ValidatePhone(""))
}

func TestXMLBodyShape(t *testing.T) {
	p, srv := newTestProvider(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := string(raw)
		require.True(t, strings.HasPrefix(body, "<mainbody><header>"))
		require.True(t, strings.HasSuffix(body, "</mainbody>"))
		io.WriteString(w, "00 1")
	}))
	defer srv.Close()

	_, err := p.SendBulk(context.Background(), providerdomain.BulkRequest{
		Recipients: []string{"5301111111"},
		Body:       "x",
	})
	require.NoError(t, err)
}
