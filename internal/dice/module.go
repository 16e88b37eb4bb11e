package dice

import "go.uber.org/fx"

var Module = fx.Module("dice",
	fx.Provide(NewRoller),
)
