package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/state"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/internal/voice"
)

// VoiceCommand controls voice sessions: start, stop, assist, status.
type VoiceCommand struct {
	logger       *zap.Logger
	cfg          *config.Config
	voiceService *voice.Service
	state        *state.State
}

func NewVoiceCommand(logger *zap.Logger, cfg *config.Config, voiceService *voice.Service, st *state.State) Command {
	return &VoiceCommand{
		logger:       logger,
		cfg:          cfg,
		voiceService: voiceService,
		state:        st,
	}
}

func (c *VoiceCommand) Name() string {
	return "voice"
}

func (c *VoiceCommand) Description() string {
	return "Record and assist your table's voice channel"
}

func (c *VoiceCommand) Options() []discord.CommandOption {
	return []discord.CommandOption{
		&discord.StringOption{
			OptionName:  "action",
			Description: "Action to perform",
			Required:    true,
			Choices: []discord.StringChoice{
				{Name: "start", Value: "start"},
				{Name: "stop", Value: "stop"},
				{Name: "assist", Value: "assist"},
				{Name: "status", Value: "status"},
			},
		},
		&discord.StringOption{
			OptionName:  "mode",
			Description: "Start mode: transcribe (default) or assistant",
			Required:    false,
			Choices: []discord.StringChoice{
				{Name: "transcribe", Value: "transcribe"},
				{Name: "assistant", Value: "assistant"},
			},
		},
	}
}

func (c *VoiceCommand) Execute(ctx context.Context, s *session.Session, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	var action, mode string
	for _, opt := range data.Options {
		switch opt.Name {
		case "action":
			action = opt.String()
		case "mode":
			if len(opt.Value) > 0 {
				mode = opt.String()
			}
		}
	}

	if e.GuildID == 0 {
		return respondEphemeral(s, e, "Voice sessions only work in servers.")
	}

	switch action {
	case "start":
		return c.handleStart(ctx, s, e, voice.Mode(mode))
	case "stop":
		return c.handleStop(ctx, s, e)
	case "assist":
		return c.handleAssist(s, e)
	case "status":
		return c.handleStatus(s, e)
	default:
		return respondEphemeral(s, e, "Unknown action: "+action)
	}
}

func (c *VoiceCommand) handleStart(ctx context.Context, s *session.Session, e *gateway.InteractionCreateEvent, mode voice.Mode) error {
	userID := e.SenderID()

	voiceChannelID, err := c.userVoiceChannel(e.GuildID, userID)
	if err != nil {
		return respondEphemeral(s, e, "Join a voice channel first, then run `/voice start` again.")
	}

	// Respond before joining: the voice handshake easily outlasts the
	// interaction window.
	if err := respond(s, e, fmt.Sprintf("🎙️ Joining <#%s>...", voiceChannelID)); err != nil {
		return err
	}

	guildID, textChannelID := e.GuildID, e.ChannelID
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		err := c.voiceService.Start(ctx, guildID, voiceChannelID, textChannelID, mode, userID)
		if err == nil {
			return
		}

		c.logger.Error("Failed to start voice session",
			zap.Error(err),
			zap.String("guild_id", guildID.String()))

		msg := "❌ Couldn't start the voice session: " + err.Error()
		if errors.Is(err, voice.ErrSessionAlreadyActive) {
			msg = "❌ There's already a session running in this server."
		}
		if _, err := s.SendMessage(textChannelID, msg); err != nil {
			c.logger.Error("Failed to send start failure notice", zap.Error(err))
		}
	}()

	return nil
}

func (c *VoiceCommand) handleStop(ctx context.Context, s *session.Session, e *gateway.InteractionCreateEvent) error {
	err := c.voiceService.Stop(ctx, e.GuildID, "slash command")
	if err != nil {
		if errors.Is(err, voice.ErrSessionNotActive) {
			return respondEphemeral(s, e, "No session is running in this server.")
		}

		c.logger.Error("Failed to stop voice session",
			zap.Error(err),
			zap.String("guild_id", e.GuildID.String()))

		return respondEphemeral(s, e, "Couldn't stop the session: "+err.Error())
	}

	return respond(s, e, "🔇 Session ended. Transcript incoming.")
}

func (c *VoiceCommand) handleAssist(s *session.Session, e *gateway.InteractionCreateEvent) error {
	if err := c.voiceService.EnableAssistantMode(e.GuildID); err != nil {
		if errors.Is(err, voice.ErrSessionNotActive) {
			return respondEphemeral(s, e, "Start a session first with `/voice start`.")
		}

		return respondEphemeral(s, e, "Couldn't enable assistant mode: "+err.Error())
	}

	return respond(s, e, fmt.Sprintf("🧙 Assistant mode on. Say \"%s\" to get my attention.", c.cfg.Voice.BotName))
}

func (c *VoiceCommand) handleStatus(s *session.Session, e *gateway.InteractionCreateEvent) error {
	status := c.voiceService.Status(e.GuildID)
	if !status.Active {
		return respond(s, e, "No session is running in this server.")
	}

	state := "listening"
	if status.Paused {
		state = "paused (channel is empty)"
	}

	duration := time.Since(status.StartedAt).Round(time.Second)

	return respond(s, e, fmt.Sprintf(
		"🎙️ Session in <#%s>\nMode: `%s` · State: %s\nDuration: %s · Transcript lines: %d",
		status.ChannelID, status.Mode, state, duration, status.Entries))
}

// userVoiceChannel finds the voice channel the invoker is currently in.
func (c *VoiceCommand) userVoiceChannel(guildID discord.GuildID, userID discord.UserID) (discord.ChannelID, error) {
	voiceState, err := c.state.VoiceState(guildID, userID)
	if err == nil && voiceState != nil && voiceState.ChannelID != 0 {
		return voiceState.ChannelID, nil
	}

	// State miss: scan the guild's voice states directly.
	voiceStates, err := c.state.VoiceStates(guildID)
	if err != nil {
		return 0, fmt.Errorf("unable to query voice states: %w", err)
	}

	for _, vs := range voiceStates {
		if vs.UserID == userID && vs.ChannelID != 0 {
			return vs.ChannelID, nil
		}
	}

	return 0, errors.New("user is not in a voice channel")
}
