package usage

import (
	"github.com/smallbiznis/pointledger/internal/usage/liveevents"
	"github.com/smallbiznis/pointledger/internal/usage/repository"
	"github.com/smallbiznis/pointledger/internal/usage/service"
	"github.com/smallbiznis/pointledger/internal/usage/stream"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(stream.NewPublisher),
	fx.Provide(liveevents.NewHub),
)
