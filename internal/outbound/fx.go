package outbound

import (
	"github.com/smallbiznis/relaya/internal/outbound/service"
	"go.uber.org/fx"
)

var Module = fx.Module("outbound.service",
	fx.Provide(service.NewService),
)
