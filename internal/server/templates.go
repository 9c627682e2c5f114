package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	templatedomain "github.com/smallbiznis/relaya/internal/template/domain"
	"gorm.io/datatypes"
)

type upsertTemplateRequest struct {
	Name string `json:"name"`

	SMSEnabled bool   `json:"sms_enabled"`
	SMSBody    string `json:"sms_body"`

	EmailEnabled  bool   `json:"email_enabled"`
	EmailSubject  string `json:"email_subject"`
	EmailBody     string `json:"email_body"`
	EmailHTMLBody string `json:"email_html_body"`

	InAppEnabled bool   `json:"in_app_enabled"`
	InAppBody    string `json:"in_app_body"`

	PushEnabled bool   `json:"push_enabled"`
	PushTitle   string `json:"push_title"`
	PushBody    string `json:"push_body"`

	Variables map[string]any `json:"variables"`
}

type previewTemplateRequest struct {
	Channel   string            `json:"channel"`
	Variables map[string]string `json:"variables"`
}

type templateResponse struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name,omitempty"`
	IsSystem bool   `json:"is_system"`

	SMSEnabled bool   `json:"sms_enabled"`
	SMSBody    string `json:"sms_body,omitempty"`

	EmailEnabled  bool   `json:"email_enabled"`
	EmailSubject  string `json:"email_subject,omitempty"`
	EmailBody     string `json:"email_body,omitempty"`
	EmailHTMLBody string `json:"email_html_body,omitempty"`

	InAppEnabled bool   `json:"in_app_enabled"`
	InAppBody    string `json:"in_app_body,omitempty"`

	PushEnabled bool   `json:"push_enabled"`
	PushTitle   string `json:"push_title,omitempty"`
	PushBody    string `json:"push_body,omitempty"`

	Variables map[string]any `json:"variables,omitempty"`
}

func (s *Server) ListTemplates(c *gin.Context) {
	tpls, err := s.templateSvc.List(c.Request.Context(), tenantID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]templateResponse, 0, len(tpls))
	for i := range tpls {
		out = append(out, toTemplateResponse(&tpls[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) UpsertTemplate(c *gin.Context) {
	var req upsertTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenant := tenantID(c)
	tpl := &templatedomain.NotificationTemplate{
		TenantID: &tenant,
		Code:     strings.TrimSpace(c.Param("code")),
		Name:     strings.TrimSpace(req.Name),

		SMSEnabled: req.SMSEnabled,
		SMSBody:    req.SMSBody,

		EmailEnabled:  req.EmailEnabled,
		EmailSubject:  req.EmailSubject,
		EmailBody:     req.EmailBody,
		EmailHTMLBody: req.EmailHTMLBody,

		InAppEnabled: req.InAppEnabled,
		InAppBody:    req.InAppBody,

		PushEnabled: req.PushEnabled,
		PushTitle:   req.PushTitle,
		PushBody:    req.PushBody,

		Variables: datatypes.JSONMap(req.Variables),
	}
	if err := s.templateSvc.Upsert(c.Request.Context(), tpl); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toTemplateResponse(tpl)})
}

func (s *Server) DeleteTemplate(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if err := s.templateSvc.Delete(c.Request.Context(), tenantID(c), code); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": code}})
}

// PreviewTemplate resolves and renders a template without sending anything
// or touching the ledger.
func (s *Server) PreviewTemplate(c *gin.Context) {
	var req previewTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	channel := outbounddomain.Channel(strings.TrimSpace(strings.ToLower(req.Channel)))
	if !channel.Valid() {
		AbortWithError(c, newValidationError("channel", "invalid_channel", "invalid channel"))
		return
	}

	tpl, err := s.templateSvc.Resolve(c.Request.Context(), tenantID(c), strings.TrimSpace(c.Param("code")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	content, err := s.templateSvc.Render(tpl, channel, req.Variables)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"subject":   content.Subject,
		"body":      content.Body,
		"html_body": content.HTMLBody,
		"title":     content.Title,
	}})
}

func toTemplateResponse(t *templatedomain.NotificationTemplate) templateResponse {
	return templateResponse{
		ID:       t.ID.String(),
		Code:     t.Code,
		Name:     t.Name,
		IsSystem: t.TenantID == nil,

		SMSEnabled: t.SMSEnabled,
		SMSBody:    t.SMSBody,

		EmailEnabled:  t.EmailEnabled,
		EmailSubject:  t.EmailSubject,
		EmailBody:     t.EmailBody,
		EmailHTMLBody: t.EmailHTMLBody,

		InAppEnabled: t.InAppEnabled,
		InAppBody:    t.InAppBody,

		PushEnabled: t.PushEnabled,
		PushTitle:   t.PushTitle,
		PushBody:    t.PushBody,

		Variables: t.Variables,
	}
}
