package service

import (
	"context"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/relaya/internal/clock"
	"github.com/smallbiznis/relaya/internal/config"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	featuredomain "github.com/smallbiznis/relaya/internal/feature/domain"
	obsmetrics "github.com/smallbiznis/relaya/internal/observability/metrics"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	preferencedomain "github.com/smallbiznis/relaya/internal/preference/domain"
	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"github.com/smallbiznis/relaya/internal/provider/registry"
	"github.com/smallbiznis/relaya/internal/ratelimit"
	routerdomain "github.com/smallbiznis/relaya/internal/router/domain"
	templatedomain "github.com/smallbiznis/relaya/internal/template/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// inboxProviderName marks in-app rows, which are delivered by inserting the
// row itself; there is no gateway.
const inboxProviderName = "inbox"

// ProviderResolver selects the adapter for a tenant and channel.
type ProviderResolver interface {
	Resolve(ctx context.Context, tenantID snowflake.ID, channel outbounddomain.Channel) (providerdomain.Provider, error)
}

// RateLimiter gates the tenant's send rate.
type RateLimiter interface {
	Allow(ctx context.Context, tenantID snowflake.ID) (bool, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Outbound   outbounddomain.Service
	Credits    creditdomain.Service
	Templates  templatedomain.Service
	Prefs      preferencedomain.Service
	Features   featuredomain.Service
	Registry   *registry.Registry
	Limiter    *ratelimit.Limiter
	Holder     *config.MessagingConfigHolder
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	outbound   outbounddomain.Service
	credits    creditdomain.Service
	templates  templatedomain.Service
	prefs      preferencedomain.Service
	features   featuredomain.Service
	providers  ProviderResolver
	limiter    RateLimiter
	holder     *config.MessagingConfigHolder
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) routerdomain.Service {
	return &Service{
		log:        p.Log.Named("router.service"),
		outbound:   p.Outbound,
		credits:    p.Credits,
		templates:  p.Templates,
		prefs:      p.Prefs,
		features:   p.Features,
		providers:  p.Registry,
		limiter:    p.Limiter,
		holder:     p.Holder,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

// Dispatch runs the precondition chain and the send for one message. A
// recipient-validation failure still writes an audit row and returns it
// alongside ErrInvalidRecipient; every other precondition failure returns
// before anything is persisted.
func (s *Service) Dispatch(ctx context.Context, req routerdomain.DispatchRequest) (*routerdomain.DispatchResult, error) {
	if !req.Channel.Valid() {
		return nil, routerdomain.ErrInvalidChannel
	}

	content, templateID, err := s.resolveContent(ctx, req.TenantID, req.Channel, req.TemplateCode, req.Variables, req.Subject, req.Body, req.HTMLBody)
	if err != nil {
		return nil, err
	}

	recipient := req.Recipient
	if req.Channel == outbounddomain.ChannelInApp && recipient == "" && req.UserID != 0 {
		recipient = req.UserID.String()
	}

	if !validRecipient(req.Channel, recipient) {
		msg := s.newMessage(req, recipient, content, templateID)
		if err := s.outbound.CreatePending(ctx, msg); err != nil {
			return nil, err
		}
		if err := s.outbound.MarkInvalid(ctx, msg.ID, "recipient failed validation for channel "+string(req.Channel)); err != nil {
			return nil, err
		}
		s.recordDispatch(ctx, req.Channel, outbounddomain.StatusInvalid)
		return &routerdomain.DispatchResult{
			OutboundID:   msg.ID,
			Status:       outbounddomain.StatusInvalid,
			ErrorMessage: "recipient failed validation",
		}, routerdomain.ErrInvalidRecipient
	}

	var cost int64
	if req.Channel == outbounddomain.ChannelSMS {
		cost = int64(providerdomain.CalculateCredits(content.Body))
		if err := s.checkCredit(ctx, req.TenantID, cost); err != nil {
			return nil, err
		}
	}

	if err := s.checkGatesAndPrefs(ctx, req.TenantID, req.UserID, req.Channel, req.NotificationType); err != nil {
		return nil, err
	}

	msg := s.newMessage(req, recipient, content, templateID)
	if err := s.outbound.CreatePending(ctx, msg); err != nil {
		return nil, err
	}

	if req.Channel == outbounddomain.ChannelInApp {
		return s.deliverInbox(ctx, msg)
	}
	return s.attempt(ctx, msg, cost, req.SenderID, req.Actor)
}

func (s *Service) DispatchBulk(ctx context.Context, req routerdomain.BulkDispatchRequest) (*routerdomain.BulkDispatchResult, error) {
	if len(req.Recipients) == 0 {
		return nil, routerdomain.ErrInvalidRecipient
	}

	content, templateID, err := s.resolveContent(ctx, req.TenantID, outbounddomain.ChannelSMS, req.TemplateCode, req.Variables, "", req.Body, "")
	if err != nil {
		return nil, err
	}

	if err := s.checkGatesAndPrefs(ctx, req.TenantID, 0, outbounddomain.ChannelSMS, req.NotificationType); err != nil {
		return nil, err
	}

	out := &routerdomain.BulkDispatchResult{Results: make([]routerdomain.DispatchResult, len(req.Recipients))}

	// Invalid recipients get a terminal audit row and never reach the
	// gateway or the ledger.
	valid := make([]string, 0, len(req.Recipients))
	validIdx := make([]int, 0, len(req.Recipients))
	for i, recipient := range req.Recipients {
		if providerdomain.ValidatePhone(recipient) {
			valid = append(valid, recipient)
			validIdx = append(validIdx, i)
			continue
		}
		msg := s.newMessage(bulkItemRequest(req), recipient, content, templateID)
		if err := s.outbound.CreatePending(ctx, msg); err != nil {
			return nil, err
		}
		if err := s.outbound.MarkInvalid(ctx, msg.ID, "recipient failed phone validation"); err != nil {
			return nil, err
		}
		out.Results[i] = routerdomain.DispatchResult{
			OutboundID:   msg.ID,
			Status:       outbounddomain.StatusInvalid,
			ErrorMessage: "recipient failed validation",
		}
	}
	if len(valid) == 0 {
		return out, nil
	}

	// Pre-check against the worst case where every valid recipient is
	// accepted; the debit after the send covers only the accepted ones.
	cost := int64(providerdomain.CalculateCredits(content.Body))
	if err := s.checkCredit(ctx, req.TenantID, cost*int64(len(valid))); err != nil {
		return nil, err
	}

	provider, err := s.providers.Resolve(ctx, req.TenantID, outbounddomain.ChannelSMS)
	if err != nil {
		return nil, err
	}

	// Pending rows are written only after the batch clears every
	// precondition; every row created from here on ends the call in a
	// non-pending state.
	messages := make([]*outbounddomain.OutboundMessage, len(req.Recipients))
	for _, i := range validIdx {
		msg := s.newMessage(bulkItemRequest(req), req.Recipients[i], content, templateID)
		if err := s.outbound.CreatePending(ctx, msg); err != nil {
			return nil, err
		}
		messages[i] = msg
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.holder.Get().SendTimeout)
	defer cancel()
	bulk, err := provider.SendBulk(sendCtx, providerdomain.BulkRequest{
		Recipients: valid,
		Body:       content.Body,
		SenderID:   req.SenderID,
	})
	if err != nil {
		for _, i := range validIdx {
			if markErr := s.outbound.MarkFailed(ctx, messages[i].ID, outbounddomain.SendOutcome{
				ProviderName: provider.Name(),
				ErrorCode:    string(providerdomain.ErrorCodeAPIError),
				ErrorMessage: err.Error(),
			}); markErr != nil {
				return nil, markErr
			}
		}
		return nil, err
	}

	byRecipient := make(map[string][]providerdomain.SendResult, len(bulk.Results))
	for _, rr := range bulk.Results {
		byRecipient[rr.Recipient] = append(byRecipient[rr.Recipient], rr.Result)
	}

	accepted := 0
	for _, i := range validIdx {
		msg := messages[i]
		results := byRecipient[msg.Recipient]
		var res providerdomain.SendResult
		if len(results) > 0 {
			res = results[0]
			byRecipient[msg.Recipient] = results[1:]
		} else {
			res = providerdomain.SendResult{
				Status:       providerdomain.DeliveryStatusFailed,
				ErrorCode:    providerdomain.ErrorCodeAPIError,
				ErrorMessage: "gateway returned no outcome for recipient",
			}
		}

		if res.Success {
			if err := s.outbound.MarkSent(ctx, msg.ID, outcomeFrom(provider.Name(), res, cost), s.clock.Now()); err != nil {
				return nil, err
			}
			accepted++
			out.Results[i] = routerdomain.DispatchResult{
				Success:           true,
				OutboundID:        msg.ID,
				ProviderMessageID: res.ProviderMessageID,
				Status:            outbounddomain.StatusSent,
				CreditsUsed:       cost,
			}
			s.recordDispatch(ctx, outbounddomain.ChannelSMS, outbounddomain.StatusSent)
		} else {
			if err := s.outbound.MarkFailed(ctx, msg.ID, outcomeFrom(provider.Name(), res, 0)); err != nil {
				return nil, err
			}
			out.Results[i] = routerdomain.DispatchResult{
				OutboundID:   msg.ID,
				Status:       outbounddomain.StatusFailed,
				ErrorCode:    string(res.ErrorCode),
				ErrorMessage: res.ErrorMessage,
			}
			s.recordDispatch(ctx, outbounddomain.ChannelSMS, outbounddomain.StatusFailed)
		}
	}

	// One debit for exactly the accepted recipients, never the whole batch.
	if accepted > 0 {
		total := cost * int64(accepted)
		if _, err := s.credits.DeductCredits(ctx, req.TenantID, total, req.Actor, "bulk sms send", map[string]any{
			"batch_id":   bulk.BatchID,
			"recipients": accepted,
		}); err != nil {
			s.log.Error("bulk debit after accepted send failed",
				zap.String("tenant_id", req.TenantID.String()),
				zap.Int64("amount", total),
				zap.Error(err),
			)
		} else {
			out.CreditsUsed = total
		}
	}
	return out, nil
}

func (s *Service) Retry(ctx context.Context, tenantID, messageID snowflake.ID) (*routerdomain.DispatchResult, error) {
	msg, err := s.outbound.Get(ctx, tenantID, messageID)
	if err != nil {
		return nil, err
	}

	// Preconditions are re-checked in full; credit and plan state may have
	// changed since the original attempt.
	var cost int64
	if msg.Channel == outbounddomain.ChannelSMS {
		cost = int64(providerdomain.CalculateCredits(msg.Content))
		if err := s.checkCredit(ctx, tenantID, cost); err != nil {
			return nil, err
		}
	}
	if err := s.checkGatesAndPrefs(ctx, tenantID, 0, msg.Channel, msg.NotificationType); err != nil {
		return nil, err
	}

	msg, err = s.outbound.RequeueForRetry(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return s.attempt(ctx, msg, cost, "", "retry")
}

// attempt performs the provider call for a pending row and applies the
// outcome. The ledger debit happens only after the sent state is durable,
// and no lock is held across the network call.
func (s *Service) attempt(ctx context.Context, msg *outbounddomain.OutboundMessage, cost int64, senderID, actor string) (*routerdomain.DispatchResult, error) {
	provider, err := s.providers.Resolve(ctx, msg.TenantID, msg.Channel)
	if err != nil {
		if markErr := s.outbound.MarkFailed(ctx, msg.ID, outbounddomain.SendOutcome{
			ErrorCode:    string(providerdomain.ErrorCodeAPIError),
			ErrorMessage: err.Error(),
		}); markErr != nil {
			return nil, markErr
		}
		return nil, err
	}

	if senderID == "" {
		senderID = s.holder.Get().DefaultSenderID
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.holder.Get().SendTimeout)
	defer cancel()
	res, err := provider.Send(sendCtx, providerdomain.SendRequest{
		Recipient: msg.Recipient,
		Body:      msg.Content,
		Subject:   msg.Subject,
		HTMLBody:  msg.HTMLBody,
		SenderID:  senderID,
	})
	if err != nil {
		if markErr := s.outbound.MarkFailed(ctx, msg.ID, outbounddomain.SendOutcome{
			ProviderName: provider.Name(),
			ErrorCode:    string(providerdomain.ErrorCodeAPIError),
			ErrorMessage: err.Error(),
		}); markErr != nil {
			return nil, markErr
		}
		return nil, err
	}

	if !res.Success {
		if err := s.outbound.MarkFailed(ctx, msg.ID, outcomeFrom(provider.Name(), *res, 0)); err != nil {
			return nil, err
		}
		s.recordDispatch(ctx, msg.Channel, outbounddomain.StatusFailed)
		return &routerdomain.DispatchResult{
			OutboundID:   msg.ID,
			Status:       outbounddomain.StatusFailed,
			ErrorCode:    string(res.ErrorCode),
			ErrorMessage: res.ErrorMessage,
		}, nil
	}

	// The sent state must be durable before any money moves; a debit with
	// no recorded send is worse than a send we failed to bill.
	if err := s.outbound.MarkSent(ctx, msg.ID, outcomeFrom(provider.Name(), *res, cost), s.clock.Now()); err != nil {
		return nil, err
	}

	if msg.Channel == outbounddomain.ChannelSMS && cost > 0 {
		if _, err := s.credits.DeductCredits(ctx, msg.TenantID, cost, actor, "sms send", map[string]any{
			"message_id": msg.ID.String(),
			"recipient":  msg.Recipient,
		}); err != nil {
			// The send already happened; surfacing an error here would make
			// the caller retry and double-send. Log and move on.
			s.log.Error("debit after accepted send failed",
				zap.String("tenant_id", msg.TenantID.String()),
				zap.String("message_id", msg.ID.String()),
				zap.Int64("amount", cost),
				zap.Error(err),
			)
		}
	}

	s.recordDispatch(ctx, msg.Channel, outbounddomain.StatusSent)
	return &routerdomain.DispatchResult{
		Success:           true,
		OutboundID:        msg.ID,
		ProviderMessageID: res.ProviderMessageID,
		Status:            outbounddomain.StatusSent,
		CreditsUsed:       cost,
	}, nil
}

// deliverInbox completes an in-app send; the stored row is the delivery.
func (s *Service) deliverInbox(ctx context.Context, msg *outbounddomain.OutboundMessage) (*routerdomain.DispatchResult, error) {
	if err := s.outbound.MarkSent(ctx, msg.ID, outbounddomain.SendOutcome{
		ProviderName:      inboxProviderName,
		ProviderMessageID: msg.ID.String(),
	}, s.clock.Now()); err != nil {
		return nil, err
	}
	s.recordDispatch(ctx, outbounddomain.ChannelInApp, outbounddomain.StatusSent)
	return &routerdomain.DispatchResult{
		Success:           true,
		OutboundID:        msg.ID,
		ProviderMessageID: msg.ID.String(),
		Status:            outbounddomain.StatusSent,
	}, nil
}

// resolveContent renders the template when a code is given, otherwise uses
// the direct content fields.
func (s *Service) resolveContent(ctx context.Context, tenantID snowflake.ID, channel outbounddomain.Channel, code string, variables map[string]string, subject, body, htmlBody string) (*templatedomain.RenderedContent, *snowflake.ID, error) {
	if code == "" {
		if body == "" && subject == "" {
			return nil, nil, routerdomain.ErrEmptyContent
		}
		return &templatedomain.RenderedContent{Subject: subject, Body: body, HTMLBody: htmlBody}, nil, nil
	}

	tpl, err := s.templates.Resolve(ctx, tenantID, code)
	if err != nil {
		return nil, nil, err
	}
	content, err := s.templates.Render(tpl, channel, variables)
	if err != nil {
		return nil, nil, err
	}
	return content, &tpl.ID, nil
}

func (s *Service) checkCredit(ctx context.Context, tenantID snowflake.ID, required int64) error {
	ok, err := s.credits.HasSufficient(ctx, tenantID, required)
	if err != nil {
		return err
	}
	if !ok {
		available, err := s.credits.GetBalance(ctx, tenantID)
		if err != nil {
			return err
		}
		return &creditdomain.InsufficientCreditError{Required: required, Available: available}
	}
	return nil
}

func (s *Service) checkGatesAndPrefs(ctx context.Context, tenantID, userID snowflake.ID, channel outbounddomain.Channel, notificationType string) error {
	ok, err := s.features.HasFeature(ctx, tenantID, featuredomain.ChannelFeature(channel))
	if err != nil {
		return err
	}
	if !ok {
		return routerdomain.ErrFeatureNotEnabled
	}

	ok, err = s.limiter.Allow(ctx, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return routerdomain.ErrRateLimited
	}

	// Preferences gate the non-ledger channels only; SMS spend is governed
	// by the credit balance.
	if userID != 0 && channel != outbounddomain.ChannelSMS {
		allowed, err := s.prefs.Allows(ctx, tenantID, userID, channel, notificationType, s.clock.Now())
		if err != nil {
			return err
		}
		if !allowed {
			return routerdomain.ErrRecipientOptedOut
		}
	}
	return nil
}

func (s *Service) newMessage(req routerdomain.DispatchRequest, recipient string, content *templatedomain.RenderedContent, templateID *snowflake.ID) *outbounddomain.OutboundMessage {
	return &outbounddomain.OutboundMessage{
		TenantID:         req.TenantID,
		Channel:          req.Channel,
		Recipient:        recipient,
		Subject:          content.Subject,
		Content:          content.Body,
		HTMLBody:         content.HTMLBody,
		NotificationType: req.NotificationType,
		TemplateID:       templateID,
		MaxRetries:       s.holder.Get().MaxRetries,
	}
}

// bulkItemRequest shapes the per-recipient request a bulk row is built from.
func bulkItemRequest(req routerdomain.BulkDispatchRequest) routerdomain.DispatchRequest {
	return routerdomain.DispatchRequest{
		TenantID:         req.TenantID,
		Channel:          outbounddomain.ChannelSMS,
		NotificationType: req.NotificationType,
		SenderID:         req.SenderID,
		Actor:            req.Actor,
	}
}

func (s *Service) recordDispatch(ctx context.Context, channel outbounddomain.Channel, status outbounddomain.Status) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordDispatch(ctx, string(channel), string(status))
	}
}

func validRecipient(channel outbounddomain.Channel, recipient string) bool {
	switch channel {
	case outbounddomain.ChannelSMS:
		return providerdomain.ValidatePhone(recipient)
	case outbounddomain.ChannelEmail:
		return providerdomain.ValidateEmail(recipient)
	case outbounddomain.ChannelInApp:
		_, err := strconv.ParseInt(recipient, 10, 64)
		return recipient != "" && err == nil
	case outbounddomain.ChannelPush:
		return recipient != ""
	default:
		return false
	}
}

func outcomeFrom(providerName string, res providerdomain.SendResult, creditsUsed int64) outbounddomain.SendOutcome {
	return outbounddomain.SendOutcome{
		ProviderName:      providerName,
		ProviderMessageID: res.ProviderMessageID,
		ProviderResponse:  res.RawResponse,
		CreditsUsed:       creditsUsed,
		ErrorCode:         string(res.ErrorCode),
		ErrorMessage:      res.ErrorMessage,
	}
}
