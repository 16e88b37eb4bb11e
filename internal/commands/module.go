package commands

import (
	"go.uber.org/fx"
)

// Module provides command-related dependencies.
var Module = fx.Module("commands",
	fx.Provide(
		NewCommandManager,
		fx.Annotate(
			NewRollCommand,
			fx.As(new(Command)),
			fx.ResultTags(`group:"commands"`),
		),
		fx.Annotate(
			NewAskCommand,
			fx.As(new(Command)),
			fx.ResultTags(`group:"commands"`),
		),
		fx.Annotate(
			NewVoiceCommand,
			fx.As(new(Command)),
			fx.ResultTags(`group:"commands"`),
		),
	),
)
