package provider

import (
	"github.com/smallbiznis/relaya/internal/provider/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("provider.registry",
	fx.Provide(registry.New),
)
