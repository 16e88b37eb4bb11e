// Package discord provides the arikawa session, state and application ID
// to the rest of the bot.
package discord

import (
	"context"
	"errors"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/state"
	"github.com/diamondburned/arikawa/v3/state/store/defaultstore"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
)

var Module = fx.Module("discord",
	fx.Provide(
		NewSession,
		NewState,
		ProvideApplicationID,
	),
)

// sessionIntents is what the orchestrator needs from the gateway: guilds
// and messages for commands and posting, voice states for the occupancy
// watcher, members for speaker display names.
const sessionIntents = gateway.IntentGuilds |
	gateway.IntentGuildMessages |
	gateway.IntentGuildVoiceStates |
	gateway.IntentGuildMembers

// NewSession builds the gateway session and ties its open/close to the fx
// lifecycle.
func NewSession(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*session.Session, error) {
	if cfg.Discord.BotToken == "" {
		return nil, errors.New("discord: bot_token missing from config")
	}

	s := session.New("Bot " + cfg.Discord.BotToken)
	s.AddIntents(sessionIntents)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Connecting to the Discord gateway")

			return s.Open(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Disconnecting from the Discord gateway")

			return s.Close()
		},
	})

	return s, nil
}

// NewState wraps the session in a caching state. The default stores are
// enough: the voice gateway only reads channels, members and voice states.
func NewState(s *session.Session) *state.State {
	return state.NewFromSession(s, defaultstore.New())
}

// ProvideApplicationID validates and exposes the application ID used to
// register slash commands.
func ProvideApplicationID(cfg *config.Config) (discord.AppID, error) {
	if cfg.Discord.ApplicationID == nil || *cfg.Discord.ApplicationID == 0 {
		return 0, errors.New("discord: application_id missing from config")
	}

	return discord.AppID(*cfg.Discord.ApplicationID), nil
}
