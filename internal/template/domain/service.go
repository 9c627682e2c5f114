package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
)

var (
	// ErrTemplateNotFound means neither a tenant-scoped row nor a system
	// default exists for the code.
	ErrTemplateNotFound = errors.New("template_not_found")
	// ErrChannelDisabled rejects rendering a channel the template does not
	// carry content for.
	ErrChannelDisabled = errors.New("template_channel_disabled")
	// ErrInvalidCode marks an empty or unnormalizable template code.
	ErrInvalidCode = errors.New("invalid_template_code")
)

// Service resolves and renders notification templates.
type Service interface {
	// Upsert creates or replaces the template identified by its tenant and
	// code. Codes are slug-normalized before storage.
	Upsert(ctx context.Context, tpl *NotificationTemplate) error

	// Resolve returns the tenant-scoped template for the code, falling back
	// to the system default.
	Resolve(ctx context.Context, tenantID snowflake.ID, code string) (*NotificationTemplate, error)

	// Render substitutes {{variable}} placeholders into the template's
	// content for one channel. Unknown placeholders render as empty string
	// and are logged.
	Render(tpl *NotificationTemplate, channel outbounddomain.Channel, variables map[string]string) (*RenderedContent, error)

	// List returns the templates visible to the tenant: its own rows plus
	// the system defaults it has not shadowed.
	List(ctx context.Context, tenantID snowflake.ID) ([]NotificationTemplate, error)

	// Delete removes a tenant-scoped template, unshadowing the system
	// default if one exists.
	Delete(ctx context.Context, tenantID snowflake.ID, code string) error
}
