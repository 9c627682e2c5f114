package mailrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"go.uber.org/zap"
)

const (
	sendPath       = "/v3/mail/send"
	defaultTimeout = 30 * time.Second
)

type Config struct {
	BaseURL string
	APIKey  string
	From    string
}

// Provider talks to a SendGrid-style REST mail API: JSON payload, bearer
// auth, HTTP 202 means accepted with the message id in X-Message-Id.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Provider {
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.Named("provider.mailrest"),
	}
}

func (p *Provider) Name() string { return "mailrest" }

type mailPayload struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type emailAddress struct {
	Email string `json:"email"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

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

	from := p.cfg.From
	if req.SenderID != "" {
		from = req.SenderID
	}

	content := []mailContent{{Type: "text/plain", Value: req.Body}}
	if req.HTMLBody != "" {
		content = append(content, mailContent{Type: "text/html", Value: req.HTMLBody})
	}

	payload, err := json.Marshal(mailPayload{
		Personalizations: []personalization{{To: []emailAddress{{Email: req.Recipient}}}},
		From:             emailAddress{Email: from},
		Subject:          req.Subject,
		Content:          content,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+sendPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.log.Warn("mail api request failed", zap.Error(err))
		return &providerdomain.SendResult{
			Status:       providerdomain.DeliveryStatusFailed,
			ErrorCode:    providerdomain.ErrorCodeAPIError,
			ErrorMessage: err.Error(),
		}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	raw := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusAccepted:
		return &providerdomain.SendResult{
			Success:           true,
			ProviderMessageID: resp.Header.Get("X-Message-Id"),
			Status:            providerdomain.DeliveryStatusSent,
			RawResponse:       raw,
		}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return p.apiFailure(providerdomain.ErrorCodeInvalidCredentials, resp.StatusCode, raw), nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return p.apiFailure(providerdomain.ErrorCodeInvalidParameters, resp.StatusCode, raw), nil
	default:
		return p.apiFailure(providerdomain.ErrorCodeAPIError, resp.StatusCode, raw), nil
	}
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

func (p *Provider) apiFailure(code providerdomain.ErrorCode, status int, raw string) *providerdomain.SendResult {
	return &providerdomain.SendResult{
		Status:       providerdomain.DeliveryStatusFailed,
		ErrorCode:    code,
		ErrorMessage: fmt.Sprintf("mail api returned http %d", status),
		RawResponse:  raw,
	}
}
