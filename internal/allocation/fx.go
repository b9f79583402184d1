package allocation

import (
	"github.com/smallbiznis/pointledger/internal/allocation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("allocation.service",
	fx.Provide(service.NewService),
)
