package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	preferencedomain "github.com/smallbiznis/relaya/internal/preference/domain"
	"gorm.io/datatypes"
)

type putPreferencesRequest struct {
	EmailEnabled *bool `json:"email_enabled"`
	SMSEnabled   *bool `json:"sms_enabled"`
	InAppEnabled *bool `json:"in_app_enabled"`
	PushEnabled  *bool `json:"push_enabled"`

	TypePreferences map[string]any `json:"type_preferences"`

	QuietHoursStart string `json:"quiet_hours_start"`
	QuietHoursEnd   string `json:"quiet_hours_end"`
}

type preferencesResponse struct {
	UserID string `json:"user_id"`

	EmailEnabled bool `json:"email_enabled"`
	SMSEnabled   bool `json:"sms_enabled"`
	InAppEnabled bool `json:"in_app_enabled"`
	PushEnabled  bool `json:"push_enabled"`

	TypePreferences map[string]any `json:"type_preferences,omitempty"`

	QuietHoursStart string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty"`
}

func (s *Server) GetPreferences(c *gin.Context) {
	userID, err := snowflake.ParseString(strings.TrimSpace(c.Param("user_id")))
	if err != nil || userID == 0 {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	pref, err := s.preferenceSvc.Get(c.Request.Context(), tenantID(c), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toPreferencesResponse(userID, pref)})
}

func (s *Server) PutPreferences(c *gin.Context) {
	userID, err := snowflake.ParseString(strings.TrimSpace(c.Param("user_id")))
	if err != nil || userID == 0 {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	var req putPreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pref := &preferencedomain.NotificationPreference{
		TenantID: tenantID(c),
		UserID:   userID,

		EmailEnabled: boolOrDefault(req.EmailEnabled, true),
		SMSEnabled:   boolOrDefault(req.SMSEnabled, true),
		InAppEnabled: boolOrDefault(req.InAppEnabled, true),
		PushEnabled:  boolOrDefault(req.PushEnabled, true),

		TypePreferences: datatypes.JSONMap(req.TypePreferences),

		QuietHoursStart: strings.TrimSpace(req.QuietHoursStart),
		QuietHoursEnd:   strings.TrimSpace(req.QuietHoursEnd),
	}
	if err := s.preferenceSvc.Upsert(c.Request.Context(), pref); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toPreferencesResponse(userID, pref)})
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func toPreferencesResponse(userID snowflake.ID, p *preferencedomain.NotificationPreference) preferencesResponse {
	return preferencesResponse{
		UserID: userID.String(),

		EmailEnabled: p.EmailEnabled,
		SMSEnabled:   p.SMSEnabled,
		InAppEnabled: p.InAppEnabled,
		PushEnabled:  p.PushEnabled,

		TypePreferences: p.TypePreferences,

		QuietHoursStart: p.QuietHoursStart,
		QuietHoursEnd:   p.QuietHoursEnd,
	}
}
