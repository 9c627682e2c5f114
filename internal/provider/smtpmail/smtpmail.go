package smtpmail

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Provider submits mail directly over SMTP with PLAIN auth. The server has
// no delivery-report or balance API, so those capabilities return
// ErrNotSupported.
type Provider struct {
	cfg  Config
	log  *zap.Logger
	send sendFunc
}

// sendFunc mirrors smtp.SendMail so tests can capture the submission
// without a live server.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

func New(cfg Config, log *zap.Logger) *Provider {
	return &Provider{cfg: cfg, log: log.Named("provider.smtp"), send: smtp.SendMail}
}

func (p *Provider) Name() string { return "smtp" }

func (p *Provider) Send(ctx context.Context, req providerdomain.SendRequest) (*providerdomain.SendResult, error) {
	if req.Recipient == "" {
		return nil, providerdomain.ErrInvalidRequest
	}
	if !providerdomain.ValidateEmail(req.Recipient) {
		return &providerdomain.SendResult{
			Status:       providerdomain.DeliveryStatusFailed,
			ErrorCode:    providerdomain.ErrorCodeInvalidRecipient,
			ErrorMessage: "recipient is not a valid email address",
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return p.failure(err), nil
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	messageID := uuid.NewString()
	msg := p.buildMessage(messageID, req)

	if err := p.send(addr, auth, p.cfg.From, []string{req.Recipient}, msg); err != nil {
		return p.failure(err), nil
	}

	return &providerdomain.SendResult{
		Success:           true,
		ProviderMessageID: messageID,
		Status:            providerdomain.DeliveryStatusSent,
	}, nil
}

func (p *Provider) SendBulk(ctx context.Context, req providerdomain.BulkRequest) (*providerdomain.BulkResult, error) {
	if len(req.Recipients) == 0 {
		return nil, providerdomain.ErrInvalidRequest
	}

	out := &providerdomain.BulkResult{Results: make([]providerdomain.RecipientResult, 0, len(req.Recipients))}
	for _, to := range req.Recipients {
		res, err := p.Send(ctx, providerdomain.SendRequest{
			Recipient: to,
			Body:      req.Body,
			SenderID:  req.SenderID,
		})
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, providerdomain.RecipientResult{Recipient: to, Result: *res})
	}
	return out, nil
}

func (p *Provider) GetDeliveryReport(ctx context.Context, providerMessageID string) (*providerdomain.SendResult, error) {
	return nil, providerdomain.ErrNotSupported
}

func (p *Provider) GetAccountBalance(ctx context.Context) (*providerdomain.BalanceInfo, error) {
	return nil, providerdomain.ErrNotSupported
}

// buildMessage assembles a multipart/alternative MIME message with a plain
// part and, when present, an HTML part.
func (p *Provider) buildMessage(messageID string, req providerdomain.SendRequest) []byte {
	from := p.cfg.From
	if req.SenderID != "" {
		from = req.SenderID
	}

	var b strings.Builder
	writeHeader := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	writeHeader("From", from)
	writeHeader("To", req.Recipient)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", req.Subject))
	writeHeader("Message-ID", fmt.Sprintf("<%s@%s>", messageID, p.cfg.Host))
	writeHeader("MIME-Version", "1.0")

	if req.HTMLBody == "" {
		writeHeader("Content-Type", `text/plain; charset="UTF-8"`)
		b.WriteString("\r\n")
		b.WriteString(req.Body)
		return []byte(b.String())
	}

	boundary := "relaya-" + messageID
	writeHeader("Content-Type", fmt.Sprintf(`multipart/alternative; boundary=%q`, boundary))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(req.Body)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(req.HTMLBody)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

func (p *Provider) failure(err error) *providerdomain.SendResult {
	p.log.Warn("smtp submission failed", zap.Error(err))
	return &providerdomain.SendResult{
		Status:       providerdomain.DeliveryStatusFailed,
		ErrorCode:    providerdomain.ErrorCodeAPIError,
		ErrorMessage: err.Error(),
	}
}
