package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	routerdomain "github.com/smallbiznis/relaya/internal/router/domain"
	templatedomain "github.com/smallbiznis/relaya/internal/template/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Errors    []ValidationError `json:"errors,omitempty"`
	Required  *int64            `json:"required,omitempty"`
	Available *int64            `json:"available,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	var credErr *creditdomain.InsufficientCreditError
	if errors.As(err, &credErr) {
		return http.StatusPaymentRequired, errorPayload{
			Type:      "insufficient_credit",
			Message:   "insufficient credit",
			Required:  &credErr.Required,
			Available: &credErr.Available,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, creditdomain.ErrInsufficientCredit):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credit",
			Message: "insufficient credit",
		}
	case errors.Is(err, routerdomain.ErrFeatureNotEnabled):
		return http.StatusForbidden, errorPayload{
			Type:    "feature_not_enabled",
			Message: "channel not included in plan",
		}
	case errors.Is(err, routerdomain.ErrRecipientOptedOut):
		return http.StatusForbidden, errorPayload{
			Type:    "recipient_opted_out",
			Message: "recipient preferences veto this send",
		}
	case errors.Is(err, routerdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "tenant send rate exceeded",
		}
	case errors.Is(err, outbounddomain.ErrInvalidTransition),
		errors.Is(err, outbounddomain.ErrRetryExhausted):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, providerdomain.ErrProviderNotConfigured),
		errors.Is(err, providerdomain.ErrUnknownProvider):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "no provider configured for channel",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, routerdomain.ErrInvalidChannel),
		errors.Is(err, routerdomain.ErrInvalidRecipient),
		errors.Is(err, routerdomain.ErrEmptyContent),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidTenant),
		errors.Is(err, templatedomain.ErrInvalidCode),
		errors.Is(err, templatedomain.ErrChannelDisabled):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, outbounddomain.ErrMessageNotFound),
		errors.Is(err, templatedomain.ErrTemplateNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_channel":
		return "channel"
	case "invalid_recipient":
		return "recipient"
	case "empty_content":
		return "body"
	case "invalid_amount":
		return "amount"
	case "invalid_tenant":
		return "tenant"
	case "invalid_template_code", "template_channel_disabled":
		return "code"
	default:
		return "request"
	}
}

// classifyErrorForLog feeds the request logger's error_type/error_code
// fields without rendering a response.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal", payload.Type
	case status == http.StatusPaymentRequired:
		return "credit", payload.Type
	case status == http.StatusTooManyRequests:
		return "throttle", payload.Type
	default:
		return "client", payload.Type
	}
}
