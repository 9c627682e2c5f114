package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/relaya/internal/clock"
	"github.com/smallbiznis/relaya/internal/config"
	obsmetrics "github.com/smallbiznis/relaya/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Redis      *redis.Client `optional:"true"`
	Log        *zap.Logger
	Holder     *config.MessagingConfigHolder
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Limiter enforces the per-tenant send rate with a fixed one-minute window
// counter in redis. The limit comes from the hot-reloaded messaging policy.
type Limiter struct {
	client     *redis.Client
	log        *zap.Logger
	holder     *config.MessagingConfigHolder
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewLimiter(p Params) *Limiter {
	return &Limiter{
		client:     p.Redis,
		log:        p.Log.Named("ratelimit.limiter"),
		holder:     p.Holder,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

// Allow reports whether the tenant may send another message this minute.
// With redis unavailable every send is allowed; rate limiting degrades
// rather than blocking traffic.
func (l *Limiter) Allow(ctx context.Context, tenantID snowflake.ID) (bool, error) {
	limit := l.holder.Get().TenantRatePerMin
	if limit <= 0 || l.client == nil {
		l.record(ctx, tenantID, true)
		return true, nil
	}

	window := l.clock.Now().Unix() / 60
	key := fmt.Sprintf("ratelimit:%s:%d", tenantID, window)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("rate limit counter unavailable, allowing send", zap.Error(err))
		l.record(ctx, tenantID, true)
		return true, nil
	}

	allowed := count.Val() <= int64(limit)
	l.record(ctx, tenantID, allowed)
	return allowed, nil
}

func (l *Limiter) record(ctx context.Context, tenantID snowflake.ID, allowed bool) {
	if l.obsMetrics == nil {
		return
	}
	if allowed {
		l.obsMetrics.RecordRateLimitAllowed(ctx, tenantID.String(), "send")
	} else {
		l.obsMetrics.RecordRateLimitDenied(ctx, tenantID.String(), "send", "tenant_rate_per_min")
	}
}

var Module = fx.Module("ratelimit",
	fx.Provide(NewLimiter),
	fx.Provide(NewLocker),
)
