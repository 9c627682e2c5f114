package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type setFeatureRequest struct {
	Enabled bool `json:"enabled"`
}

// SetFeature writes an explicit plan gate for the tenant, e.g. enabling
// the email channel.
func (s *Server) SetFeature(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, newValidationError("code", "invalid_feature_code", "invalid feature code"))
		return
	}

	var req setFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.featureSvc.SetFeature(c.Request.Context(), tenantID(c), code, req.Enabled); err != nil {
		AbortWithError(c, err)
		return
	}

	enabled, err := s.featureSvc.HasFeature(c.Request.Context(), tenantID(c), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"code": code, "enabled": enabled}})
}
