package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	routerdomain "github.com/smallbiznis/relaya/internal/router/domain"
	"github.com/smallbiznis/relaya/pkg/db/pagination"
)

type sendMessageRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	UserID    string `json:"user_id"`

	TemplateCode string            `json:"template_code"`
	Variables    map[string]string `json:"variables"`

	Subject  string `json:"subject"`
	Body     string `json:"body"`
	HTMLBody string `json:"html_body"`

	NotificationType string `json:"notification_type"`
	SenderID         string `json:"sender_id"`
}

type sendBulkRequest struct {
	Recipients []string `json:"recipients"`

	TemplateCode string            `json:"template_code"`
	Variables    map[string]string `json:"variables"`
	Body         string            `json:"body"`

	NotificationType string `json:"notification_type"`
	SenderID         string `json:"sender_id"`
}

type dispatchResponse struct {
	Success           bool   `json:"success"`
	MessageID         string `json:"message_id"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Status            string `json:"status"`
	CreditsUsed       int64  `json:"credits_used"`
	ErrorCode         string `json:"error_code,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

type messageResponse struct {
	ID                string     `json:"id"`
	Channel           string     `json:"channel"`
	Recipient         string     `json:"recipient"`
	Subject           string     `json:"subject,omitempty"`
	Content           string     `json:"content"`
	NotificationType  string     `json:"notification_type,omitempty"`
	Status            string     `json:"status"`
	ProviderName      string     `json:"provider_name,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	CreditsUsed       int64      `json:"credits_used"`
	ErrorCode         string     `json:"error_code,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	RetryCount        int        `json:"retry_count"`
	MaxRetries        int        `json:"max_retries"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (s *Server) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseOptionalSnowflakeID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	channel := outbounddomain.Channel(strings.TrimSpace(strings.ToLower(req.Channel)))
	c.Set("channel", string(channel))

	dispatch := routerdomain.DispatchRequest{
		TenantID:         tenantID(c),
		Channel:          channel,
		Recipient:        strings.TrimSpace(req.Recipient),
		TemplateCode:     strings.TrimSpace(req.TemplateCode),
		Variables:        req.Variables,
		Subject:          req.Subject,
		Body:             req.Body,
		HTMLBody:         req.HTMLBody,
		NotificationType: strings.TrimSpace(req.NotificationType),
		SenderID:         strings.TrimSpace(req.SenderID),
		Actor:            actorID(c),
	}
	if userID != nil {
		dispatch.UserID = *userID
	}

	resp, err := s.routerSvc.Dispatch(c.Request.Context(), dispatch)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toDispatchResponse(resp)})
}

func (s *Server) SendBulkMessages(c *gin.Context) {
	var req sendBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Recipients) == 0 {
		AbortWithError(c, newValidationError("recipients", "empty_recipients", "at least one recipient is required"))
		return
	}
	c.Set("channel", string(outbounddomain.ChannelSMS))

	resp, err := s.routerSvc.DispatchBulk(c.Request.Context(), routerdomain.BulkDispatchRequest{
		TenantID:         tenantID(c),
		Recipients:       req.Recipients,
		TemplateCode:     strings.TrimSpace(req.TemplateCode),
		Variables:        req.Variables,
		Body:             req.Body,
		NotificationType: strings.TrimSpace(req.NotificationType),
		SenderID:         strings.TrimSpace(req.SenderID),
		Actor:            actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	results := make([]dispatchResponse, 0, len(resp.Results))
	for i := range resp.Results {
		results = append(results, toDispatchResponse(&resp.Results[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"results":      results,
		"credits_used": resp.CreditsUsed,
	}})
}

func (s *Server) RetryMessage(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := s.routerSvc.Retry(c.Request.Context(), tenantID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toDispatchResponse(resp)})
}

func (s *Server) GetMessage(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	msg, err := s.outboundSvc.Get(c.Request.Context(), tenantID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toMessageResponse(msg)})
}

func (s *Server) ListMessages(c *gin.Context) {
	var query struct {
		Channel string `form:"channel"`
		Status  string `form:"status"`
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	filter := outbounddomain.ListFilter{
		Channel: outbounddomain.Channel(strings.TrimSpace(strings.ToLower(query.Channel))),
		Status:  outbounddomain.Status(strings.TrimSpace(strings.ToLower(query.Status))),
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		AbortWithError(c, newValidationError("channel", "invalid_channel", "invalid channel"))
		return
	}

	msgs, pageInfo, err := s.outboundSvc.ListByTenant(c.Request.Context(), tenantID(c), filter, query.Pagination)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageResponse(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "page_info": pageInfo})
}

func toDispatchResponse(r *routerdomain.DispatchResult) dispatchResponse {
	return dispatchResponse{
		Success:           r.Success,
		MessageID:         r.OutboundID.String(),
		ProviderMessageID: r.ProviderMessageID,
		Status:            string(r.Status),
		CreditsUsed:       r.CreditsUsed,
		ErrorCode:         r.ErrorCode,
		ErrorMessage:      r.ErrorMessage,
	}
}

func toMessageResponse(m *outbounddomain.OutboundMessage) messageResponse {
	return messageResponse{
		ID:                m.ID.String(),
		Channel:           string(m.Channel),
		Recipient:         m.Recipient,
		Subject:           m.Subject,
		Content:           m.Content,
		NotificationType:  m.NotificationType,
		Status:            string(m.Status),
		ProviderName:      m.ProviderName,
		ProviderMessageID: m.ProviderMessageID,
		CreditsUsed:       m.CreditsUsed,
		ErrorCode:         m.ErrorCode,
		ErrorMessage:      m.ErrorMessage,
		RetryCount:        m.RetryCount,
		MaxRetries:        m.MaxRetries,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		CreatedAt:         m.CreatedAt,
	}
}
