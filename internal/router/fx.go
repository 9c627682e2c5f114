package router

import (
	"github.com/smallbiznis/relaya/internal/router/service"
	"go.uber.org/fx"
)

var Module = fx.Module("router.service",
	fx.Provide(service.NewService),
)
