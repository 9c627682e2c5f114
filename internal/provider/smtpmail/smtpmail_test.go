package smtpmail

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingProvider(failWith error) (*Provider, *[]capturedMail) {
	var sent []capturedMail
	p := New(Config{
		Host:     "mail.example.com",
		Port:     587,
		Username: "relaya",
		Password: "secret",
		From:     "noreply@example.com",
	}, zap.NewNop())
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if failWith != nil {
			return failWith
		}
		sent = append(sent, capturedMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return p, &sent
}

func TestSendPlainText(t *testing.T) {
	p, sent := newCapturingProvider(nil)

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "user@example.com",
		Subject:   "Balance low",
		Body:      "Your credit balance is below 10.",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, providerdomain.DeliveryStatusSent, res.Status)
	assert.NotEmpty(t, res.ProviderMessageID)

	require.Len(t, *sent, 1)
	mail := (*sent)[0]
	assert.Equal(t, "mail.example.com:587", mail.addr)
	assert.Equal(t, "noreply@example.com", mail.from)
	assert.Equal(t, []string{"user@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "To: user@example.com")
	assert.Contains(t, mail.msg, `Content-Type: text/plain; charset="UTF-8"`)
	assert.Contains(t, mail.msg, "Your credit balance is below 10.")
}

func TestSendMultipartWhenHTMLPresent(t *testing.T) {
	p, sent := newCapturingProvider(nil)

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "user@example.com",
		Subject:   "Hello",
		Body:      "plain part",
		HTMLBody:  "<p>html part</p>",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	mail := (*sent)[0]
	assert.Contains(t, mail.msg, "multipart/alternative")
	assert.Contains(t, mail.msg, "plain part")
	assert.Contains(t, mail.msg, "<p>html part</p>")
}

func TestSendInvalidRecipient(t *testing.T) {
	p, sent := newCapturingProvider(nil)

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "not-an-address",
		Body:      "hello",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, providerdomain.ErrorCodeInvalidRecipient, res.ErrorCode)
	assert.Empty(t, *sent)
}

func TestSendServerFailure(t *testing.T) {
	p, _ := newCapturingProvider(errors.New("535 authentication failed"))

	res, err := p.Send(context.Background(), providerdomain.SendRequest{
		Recipient: "user@example.com",
		Body:      "hello",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, providerdomain.ErrorCodeAPIError, res.ErrorCode)
	assert.Contains(t, res.ErrorMessage, "authentication failed")
}

func TestSendBulkPerRecipientOutcome(t *testing.T) {
	p, sent := newCapturingProvider(nil)

	res, err := p.SendBulk(context.Background(), providerdomain.BulkRequest{
		Recipients: []string{"a@example.com", "broken", "b@example.com"},
		Body:       "hello",
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].Result.Success)
	assert.False(t, res.Results[1].Result.Success)
	assert.True(t, res.Results[2].Result.Success)
	assert.Len(t, *sent, 2)
}

func TestUnsupportedCapabilities(t *testing.T) {
	p, _ := newCapturingProvider(nil)

	_, err := p.GetDeliveryReport(context.Background(), "any")
	assert.ErrorIs(t, err, providerdomain.ErrNotSupported)

	_, err = p.GetAccountBalance(context.Background())
	assert.ErrorIs(t, err, providerdomain.ErrNotSupported)
}
