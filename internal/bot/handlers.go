package bot

import (
	"context"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"go.uber.org/zap"
)

func (b *Bot) handleInteraction(ctx context.Context, e *gateway.InteractionCreateEvent) {
	data, ok := e.Data.(*discord.CommandInteraction)
	if !ok {
		b.logger.Debug("Ignoring non-command interaction")

		return
	}

	b.logger.Info("Received slash command",
		zap.String("command", data.Name),
		zap.String("guild_id", e.GuildID.String()))

	cmd, ok := b.cmdManager.Get(data.Name)
	if !ok {
		b.logger.Warn("Unknown command", zap.String("command", data.Name))

		return
	}

	if err := cmd.Execute(ctx, b.session, e, data); err != nil {
		b.logger.Error("Command execution failed",
			zap.String("command", data.Name),
			zap.Error(err))
	}
}
