package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/relaya/pkg/tenantctx"
)

const (
	tenantHeader = "X-Tenant-Id"
	actorHeader  = "X-Actor-Id"

	tenantKey = "tenant_id"
	actorKey  = "actor_id"
)

// TenantRequired resolves the tenant from the gateway-provided header.
// Authentication happens upstream; a request without the header never
// reaches a domain service.
func (s *Server) TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(tenantHeader))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), int64(id))
		if actor := strings.TrimSpace(c.GetHeader(actorHeader)); actor != "" {
			ctx = tenantctx.WithActorID(ctx, actor)
			c.Set(actorKey, actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(tenantKey, id)

		c.Next()
	}
}

func tenantID(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(tenantKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

func actorID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(actorKey))
}
