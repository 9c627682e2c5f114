package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/relaya/internal/clock"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	"github.com/smallbiznis/relaya/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) outbounddomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("outbound.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreatePending(ctx context.Context, msg *outbounddomain.OutboundMessage) error {
	if msg.ID == 0 {
		msg.ID = s.genID.Generate()
	}
	msg.Status = outbounddomain.StatusPending
	now := s.clock.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (*outbounddomain.OutboundMessage, error) {
	var msg outbounddomain.OutboundMessage
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, outbounddomain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Service) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*outbounddomain.OutboundMessage, error) {
	var msg outbounddomain.OutboundMessage
	err := s.db.WithContext(ctx).
		Where("provider_message_id = ?", providerMessageID).
		Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, outbounddomain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Service) MarkSent(ctx context.Context, id snowflake.ID, outcome outbounddomain.SendOutcome, sentAt time.Time) error {
	return s.transition(ctx, id, outbounddomain.StatusPending, map[string]any{
		"status":              outbounddomain.StatusSent,
		"provider_name":       outcome.ProviderName,
		"provider_message_id": outcome.ProviderMessageID,
		"provider_response":   outcome.ProviderResponse,
		"credits_used":        outcome.CreditsUsed,
		"error_code":          "",
		"error_message":       "",
		"sent_at":             sentAt,
	})
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, outcome outbounddomain.SendOutcome) error {
	return s.transition(ctx, id, outbounddomain.StatusPending, map[string]any{
		"status":              outbounddomain.StatusFailed,
		"provider_name":       outcome.ProviderName,
		"provider_message_id": outcome.ProviderMessageID,
		"provider_response":   outcome.ProviderResponse,
		"error_code":          outcome.ErrorCode,
		"error_message":       outcome.ErrorMessage,
	})
}

func (s *Service) MarkRejected(ctx context.Context, id snowflake.ID, outcome outbounddomain.SendOutcome) error {
	// A rejection can surface at send time (pending) or from a delivery
	// report after acceptance (sent).
	err := s.transition(ctx, id, outbounddomain.StatusPending, map[string]any{
		"status":            outbounddomain.StatusRejected,
		"provider_name":     outcome.ProviderName,
		"provider_response": outcome.ProviderResponse,
		"error_code":        outcome.ErrorCode,
		"error_message":     outcome.ErrorMessage,
	})
	if errors.Is(err, outbounddomain.ErrInvalidTransition) {
		return s.transition(ctx, id, outbounddomain.StatusSent, map[string]any{
			"status":            outbounddomain.StatusRejected,
			"provider_response": outcome.ProviderResponse,
			"error_code":        outcome.ErrorCode,
			"error_message":     outcome.ErrorMessage,
		})
	}
	return err
}

func (s *Service) MarkInvalid(ctx context.Context, id snowflake.ID, reason string) error {
	return s.transition(ctx, id, outbounddomain.StatusPending, map[string]any{
		"status":        outbounddomain.StatusInvalid,
		"error_message": reason,
	})
}

func (s *Service) MarkDelivered(ctx context.Context, id snowflake.ID, deliveredAt time.Time) error {
	return s.transition(ctx, id, outbounddomain.StatusSent, map[string]any{
		"status":       outbounddomain.StatusDelivered,
		"delivered_at": deliveredAt,
	})
}

func (s *Service) RequeueForRetry(ctx context.Context, id snowflake.ID) (*outbounddomain.OutboundMessage, error) {
	var msg outbounddomain.OutboundMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Where("id = ?", id).Take(&msg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return outbounddomain.ErrMessageNotFound
			}
			return err
		}
		if !msg.CanRetry() {
			return outbounddomain.ErrRetryExhausted
		}

		result := tx.WithContext(ctx).
			Model(&outbounddomain.OutboundMessage{}).
			Where("id = ? AND status = ?", id, outbounddomain.StatusFailed).
			Updates(map[string]any{
				"status":        outbounddomain.StatusPending,
				"retry_count":   gorm.Expr("retry_count + 1"),
				"error_code":    "",
				"error_message": "",
				"updated_at":    s.clock.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return outbounddomain.ErrInvalidTransition
		}
		msg.Status = outbounddomain.StatusPending
		msg.RetryCount++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Service) ListByTenant(ctx context.Context, tenantID snowflake.ID, filter outbounddomain.ListFilter, page pagination.Pagination) ([]outbounddomain.OutboundMessage, *pagination.PageInfo, error) {
	limit := page.PageSize
	if limit <= 0 {
		limit = 10
	}

	stmt := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)
	if filter.Channel != "" {
		stmt = stmt.Where("channel = ?", filter.Channel)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		stmt = stmt.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []*outbounddomain.OutboundMessage
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(rows, limit, func(m *outbounddomain.OutboundMessage) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        m.ID.String(),
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})

	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]outbounddomain.OutboundMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, info, nil
}

func (s *Service) ListRetryable(ctx context.Context, limit int) ([]outbounddomain.OutboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []outbounddomain.OutboundMessage
	err := s.db.WithContext(ctx).
		Where("status = ? AND retry_count < max_retries", outbounddomain.StatusFailed).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *Service) ListAwaitingReport(ctx context.Context, limit int) ([]outbounddomain.OutboundMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outbounddomain.OutboundMessage
	err := s.db.WithContext(ctx).
		Where("status = ? AND provider_message_id <> ''", outbounddomain.StatusSent).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// transition applies updates only when the row is still in the expected
// state, so concurrent writers cannot double-apply a lifecycle step.
func (s *Service) transition(ctx context.Context, id snowflake.ID, from outbounddomain.Status, updates map[string]any) error {
	updates["updated_at"] = s.clock.Now()
	result := s.db.WithContext(ctx).
		Model(&outbounddomain.OutboundMessage{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&outbounddomain.OutboundMessage{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return outbounddomain.ErrMessageNotFound
		}
		return outbounddomain.ErrInvalidTransition
	}
	return nil
}
