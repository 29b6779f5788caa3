package connectstate

import (
	"github.com/postloop/postloop/internal/connectstate/repository"
	"github.com/postloop/postloop/internal/connectstate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("connectstate.service",
	fx.Provide(service.NewConfig),
	fx.Provide(service.NewTokenGenerator),
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
