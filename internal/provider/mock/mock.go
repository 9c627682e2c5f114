package mock

import (
	"context"
	"fmt"
	"sync"

	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
)

// SentMessage is one recorded submission.
type SentMessage struct {
	Recipient string
	Body      string
	Subject   string
	SenderID  string
	MessageID string
}

// Provider is a test double holding its own instance state; nothing is
// shared across instances, so concurrent tests stay independent.
type Provider struct {
	mu   sync.Mutex
	seq  int
	sent []SentMessage

	// failNext holds error codes to inject, consumed in order.
	failNext []providerdomain.ErrorCode
	// failRecipients always fail with INVALID_RECIPIENT.
	failRecipients map[string]bool
	// reports maps message ids to the status a delivery report returns.
	reports map[string]providerdomain.DeliveryStatus

	balance float64
}

func New() *Provider {
	return &Provider{
		failRecipients: make(map[string]bool),
		reports:        make(map[string]providerdomain.DeliveryStatus),
		balance:        1000,
	}
}

func (p *Provider) Name() string { return "mock" }

// FailNext injects error codes for the upcoming sends, consumed in order.
func (p *Provider) FailNext(codes ...providerdomain.ErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = append(p.failNext, codes...)
}

// FailRecipient makes every send to the recipient fail deterministically.
func (p *Provider) FailRecipient(recipient string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRecipients[recipient] = true
}

// SetReportStatus fixes what GetDeliveryReport returns for a message id.
func (p *Provider) SetReportStatus(messageID string, status providerdomain.DeliveryStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports[messageID] = status
}

// SetBalance fixes the account balance the mock reports.
func (p *Provider) SetBalance(amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = amount
}

// Sent returns a copy of everything recorded so far.
func (p *Provider) Sent() []SentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SentMessage, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *Provider) Send(ctx context.Context, req providerdomain.SendRequest) (*providerdomain.SendResult, error) {
	if req.Recipient == "" {
		return nil, providerdomain.ErrInvalidRequest
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failRecipients[req.Recipient] {
		return &providerdomain.SendResult{
			Status:       providerdomain.DeliveryStatusFailed,
			ErrorCode:    providerdomain.ErrorCodeInvalidRecipient,
			ErrorMessage: "recipient configured to fail",
		}, nil
	}
	if len(p.failNext) > 0 {
		code := p.failNext[0]
		p.failNext = p.failNext[1:]
		return &providerdomain.SendResult{
			Status:       providerdomain.DeliveryStatusFailed,
			ErrorCode:    code,
			ErrorMessage: "injected failure",
		}, nil
	}

	p.seq++
	id := fmt.Sprintf("mock-%d", p.seq)
	p.sent = append(p.sent, SentMessage{
		Recipient: req.Recipient,
		Body:      req.Body,
		Subject:   req.Subject,
		SenderID:  req.SenderID,
		MessageID: id,
	})
	p.reports[id] = providerdomain.DeliveryStatusSent

	return &providerdomain.SendResult{
		Success:           true,
		ProviderMessageID: id,
		Status:            providerdomain.DeliveryStatusSent,
		CreditsUsed:       int64(providerdomain.CalculateCredits(req.Body)),
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
		if res.Success {
			out.CreditsUsed += res.CreditsUsed
		}
	}
	return out, nil
}

func (p *Provider) GetDeliveryReport(ctx context.Context, providerMessageID string) (*providerdomain.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.reports[providerMessageID]
	if !ok {
		return &providerdomain.SendResult{
			ProviderMessageID: providerMessageID,
			Status:            providerdomain.DeliveryStatusFailed,
			ErrorCode:         providerdomain.ErrorCodeInvalidParameters,
			ErrorMessage:      "unknown message id",
		}, nil
	}
	return &providerdomain.SendResult{
		Success:           status != providerdomain.DeliveryStatusFailed && status != providerdomain.DeliveryStatusRejected,
		ProviderMessageID: providerMessageID,
		Status:            status,
	}, nil
}

func (p *Provider) GetAccountBalance(ctx context.Context) (*providerdomain.BalanceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &providerdomain.BalanceInfo{Amount: p.balance, Currency: "TRY"}, nil
}
