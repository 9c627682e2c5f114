package feature

import (
	"github.com/smallbiznis/relaya/internal/feature/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feature.service",
	fx.Provide(service.NewService),
)
