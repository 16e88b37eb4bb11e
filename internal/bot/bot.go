// Package bot wires the Discord session, commands and voice orchestrator
// into one running service.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/commands"
	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/internal/voice"
)

// Bot owns command registration and interaction dispatch.
type Bot struct {
	session      *session.Session
	cfg          *config.Config
	cmdManager   *commands.CommandManager
	voiceService *voice.Service
	logger       *zap.Logger
}

// Params holds dependencies for NewBot.
type Params struct {
	fx.In

	Cfg          *config.Config
	Session      *session.Session
	CmdManager   *commands.CommandManager
	VoiceService *voice.Service
	Logger       *zap.Logger
}

// NewBot creates the bot and attaches its gateway handlers.
func NewBot(params Params) (*Bot, error) {
	if params.Cfg.Discord.ApplicationID == nil || *params.Cfg.Discord.ApplicationID == 0 {
		return nil, fmt.Errorf("application ID is not set in config")
	}

	b := &Bot{
		session:      params.Session,
		cfg:          params.Cfg,
		cmdManager:   params.CmdManager,
		voiceService: params.VoiceService,
		logger:       params.Logger,
	}

	params.Session.AddHandler(func(e *gateway.InteractionCreateEvent) {
		b.handleInteraction(context.Background(), e)
	})

	// Voice-state updates drive session pause/resume.
	params.VoiceService.BindGateway(params.Session)

	return b, nil
}

// Start registers slash commands for the configured guilds. The session
// itself is opened by the Fx lifecycle.
func (b *Bot) Start() error {
	var guildIDs []discord.GuildID
	for _, idStr := range b.cfg.Discord.GuildIDs {
		sf, err := discord.ParseSnowflake(idStr)
		if err != nil {
			b.logger.Error("Invalid guild ID in config",
				zap.String("guild_id", idStr),
				zap.Error(err))

			continue
		}
		guildIDs = append(guildIDs, discord.GuildID(sf))
	}

	if len(guildIDs) == 0 {
		b.logger.Warn("No guild IDs configured, skipping command registration")

		return nil
	}

	b.cmdManager.RegisterCommands(guildIDs)

	if status := b.cfg.Discord.StatusText; status != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := b.session.Gateway().Send(ctx, &gateway.UpdatePresenceCommand{
			Status: discord.OnlineStatus,
			Activities: []discord.Activity{
				{Name: status, Type: discord.GameActivity},
			},
		}); err != nil {
			b.logger.Warn("Failed to set presence", zap.Error(err))
		}
	}

	return nil
}

// Stop ends any voice sessions still running so their transcripts are
// exported before the session closes.
func (b *Bot) Stop(ctx context.Context) error {
	for _, idStr := range b.cfg.Discord.GuildIDs {
		sf, err := discord.ParseSnowflake(idStr)
		if err != nil {
			continue
		}
		guildID := discord.GuildID(sf)
		if err := b.voiceService.Stop(ctx, guildID, "shutdown"); err != nil && !errors.Is(err, voice.ErrSessionNotActive) {
			b.logger.Warn("Failed to stop voice session on shutdown",
				zap.String("guild_id", guildID.String()),
				zap.Error(err))
		}
	}

	return nil
}
