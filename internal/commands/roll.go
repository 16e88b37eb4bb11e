package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/dice"
)

// RollCommand rolls dice from standard notation.
type RollCommand struct {
	logger *zap.Logger
	roller *dice.Roller
}

func NewRollCommand(logger *zap.Logger, roller *dice.Roller) Command {
	return &RollCommand{logger: logger, roller: roller}
}

func (c *RollCommand) Name() string {
	return "roll"
}

func (c *RollCommand) Description() string {
	return "Roll dice, e.g. 2d6+3 or d20"
}

func (c *RollCommand) Options() []discord.CommandOption {
	return []discord.CommandOption{
		&discord.StringOption{
			OptionName:  "dice",
			Description: "Dice notation like 2d6+3; defaults to 1d20",
			Required:    false,
		},
	}
}

func (c *RollCommand) Execute(_ context.Context, s *session.Session, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	expr := "1d20"
	for _, opt := range data.Options {
		if opt.Name == "dice" && len(opt.Value) > 0 {
			expr = opt.String()
		}
	}

	result, err := c.roller.Roll(expr)
	if err != nil {
		switch {
		case errors.Is(err, dice.ErrTooManyDice):
			return respondEphemeral(s, e, "That's too many dice. A hundred is the limit.")
		case errors.Is(err, dice.ErrBadSides):
			return respondEphemeral(s, e, "Dice need at least two sides.")
		default:
			return respondEphemeral(s, e, fmt.Sprintf("I can't parse `%s`. Try something like `2d6+3`.", expr))
		}
	}

	c.logger.Debug("Rolled dice",
		zap.String("expr", expr),
		zap.Int("total", result.Total))

	return respond(s, e, result.Display())
}
