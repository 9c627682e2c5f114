package scheduler

import (
	"context"

	"github.com/smallbiznis/relaya/internal/clock"
	"github.com/smallbiznis/relaya/internal/config"
	obsmetrics "github.com/smallbiznis/relaya/internal/observability/metrics"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	"github.com/smallbiznis/relaya/internal/provider/registry"
	"github.com/smallbiznis/relaya/internal/ratelimit"
	routerdomain "github.com/smallbiznis/relaya/internal/router/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Outbound outbounddomain.Service
	Router   routerdomain.Service
	Registry *registry.Registry
	Locker   *ratelimit.Locker
	Holder   *config.MessagingConfigHolder
	Clock    clock.Clock
}

func NewFromParams(p Params) *Scheduler {
	return New(p.Log, p.Outbound, p.Router, p.Registry, p.Locker, p.Holder, p.Clock, obsmetrics.Scheduler())
}

func registerHooks(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}

var Module = fx.Module("scheduler",
	fx.Provide(NewFromParams),
	fx.Invoke(registerHooks),
)
