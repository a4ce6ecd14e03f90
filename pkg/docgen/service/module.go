package service

import "go.uber.org/fx"

// Module provides the service facade.
var Module = fx.Options(
	fx.Provide(New),
)
