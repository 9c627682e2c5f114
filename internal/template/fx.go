package template

import (
	"github.com/smallbiznis/relaya/internal/template/service"
	"go.uber.org/fx"
)

var Module = fx.Module("template.service",
	fx.Provide(service.NewService),
)
