package voice

import (
	"context"
	"fmt"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
)

// SessionStatus is a point-in-time snapshot for status queries.
type SessionStatus struct {
	Active    bool
	ChannelID discord.ChannelID
	Mode      Mode
	Paused    bool
	StartedAt time.Time
	Entries   int
}

// Service is the voice session orchestrator: lifecycle, occupancy handling,
// transcription routing and response delivery for all guilds.
type Service struct {
	logger *zap.Logger
	cfg    *config.VoiceConfig
	// idleStatus is restored once the last session ends.
	idleStatus string
	gateway    Gateway
	registry   *Registry
	selector   *ProviderSelector
	resolver   *Resolver
	dispatcher *Dispatcher
	playback   *PlaybackCoordinator
	exporter   *Exporter
	subtitles  *SubtitleRenderer
	notifier   *Notifier
}

func NewService(
	logger *zap.Logger,
	cfg *config.Config,
	gateway Gateway,
	registry *Registry,
	selector *ProviderSelector,
	resolver *Resolver,
	dispatcher *Dispatcher,
	playback *PlaybackCoordinator,
	exporter *Exporter,
	subtitles *SubtitleRenderer,
	notifier *Notifier,
) *Service {
	return &Service{
		logger:     logger.Named("voice_service"),
		cfg:        &cfg.Voice,
		idleStatus: cfg.Discord.StatusText,
		gateway:    gateway,
		registry:   registry,
		selector:   selector,
		resolver:   resolver,
		dispatcher: dispatcher,
		playback:   playback,
		exporter:   exporter,
		subtitles:  subtitles,
		notifier:   notifier,
	}
}

// Start begins a voice session in the given channel. A missing transcriber
// is fatal; a missing synthesizer only degrades responses to text.
func (s *Service) Start(ctx context.Context, guildID discord.GuildID, channelID, textChannelID discord.ChannelID, mode Mode, startedBy discord.UserID) error {
	transcriber, err := s.selector.SelectTranscriber()
	if err != nil {
		return &VoiceError{GuildID: guildID, Op: "start", Err: err}
	}

	synth, err := s.selector.SelectSynthesizer()
	if err != nil {
		s.logger.Warn("No speech synthesis available, responses will be text only",
			zap.String("guild_id", guildID.String()),
			zap.Error(err))
		synth = nil
	}

	sess, err := s.registry.Start(StartParams{
		GuildID:       guildID,
		ChannelID:     channelID,
		TextChannelID: textChannelID,
		Mode:          mode,
		StartedBy:     startedBy,
		Transcriber:   transcriber,
		Synthesizer:   synth,
		WakeHint:      s.cfg.BotName,
	})
	if err != nil {
		return err
	}

	conn, err := s.gateway.JoinVoice(ctx, guildID, channelID)
	if err != nil {
		_, _ = s.registry.Stop(guildID)

		return &VoiceError{GuildID: guildID, Op: "join", Err: err}
	}
	sess.setConnection(conn)

	if textChannelID != 0 {
		sess.subtitles = s.subtitles.NewView(textChannelID)
	}

	if err := s.startStream(sess); err != nil {
		_, _ = s.registry.Stop(guildID)
		_ = s.gateway.LeaveVoice(ctx, guildID)

		return &VoiceError{GuildID: guildID, Op: "transcribe", Err: err}
	}

	s.logger.Info("Voice session started",
		zap.String("guild_id", guildID.String()),
		zap.String("channel_id", channelID.String()),
		zap.String("mode", string(sess.Mode())),
		zap.String("transcriber", transcriber.Name()))

	if textChannelID != 0 {
		_, _ = s.gateway.SendMessage(textChannelID,
			fmt.Sprintf("🎙️ Listening in <#%s>. Say \"%s, stop listening\" to end the session.", channelID, s.cfg.BotName))
	}

	if err := s.gateway.SetPresence(ctx, "🎲 listening at the table"); err != nil {
		s.logger.Debug("Failed to update presence", zap.Error(err))
	}

	s.notifier.Emit(Event{Type: EventStarted, GuildID: guildID})

	return nil
}

// Stop ends the guild's session: stream teardown, transcript export, voice
// disconnect. Export and disconnect failures are logged, never returned;
// the only error is ErrSessionNotActive.
func (s *Service) Stop(ctx context.Context, guildID discord.GuildID, reason string) error {
	sess, err := s.registry.Stop(guildID)
	if err != nil {
		return err
	}

	s.stopStream(sess)
	s.subtitles.Close(sess.subtitles)

	s.exporter.Finalize(ctx, sess, reason)

	if err := s.gateway.LeaveVoice(ctx, guildID); err != nil {
		s.logger.Warn("Failed to leave voice channel cleanly",
			zap.String("guild_id", guildID.String()),
			zap.Error(err))
	}

	s.logger.Info("Voice session stopped",
		zap.String("guild_id", guildID.String()),
		zap.String("reason", reason),
		zap.Int("transcript_lines", sess.transcript.Len()))

	if s.registry.Len() == 0 {
		if err := s.gateway.SetPresence(ctx, s.idleStatus); err != nil {
			s.logger.Debug("Failed to restore presence", zap.Error(err))
		}
	}

	s.notifier.Emit(Event{Type: EventStopped, GuildID: guildID, Detail: reason})

	return nil
}

// EnableAssistantMode upgrades a running session to act on addressed
// utterances.
func (s *Service) EnableAssistantMode(guildID discord.GuildID) error {
	return s.registry.EnableAssistantMode(guildID)
}

// Status reports the guild's session state.
func (s *Service) Status(guildID discord.GuildID) SessionStatus {
	sess, ok := s.registry.Get(guildID)
	if !ok {
		return SessionStatus{}
	}

	return SessionStatus{
		Active:    true,
		ChannelID: sess.ChannelID,
		Mode:      sess.Mode(),
		Paused:    sess.Paused(),
		StartedAt: sess.StartedAt,
		Entries:   sess.transcript.Len(),
	}
}

// startStream opens a transcription stream for the session and pumps its
// events into the router. Idempotent while a stream is live.
func (s *Service) startStream(sess *Session) error {
	sess.mu.Lock()
	if sess.streamCancel != nil {
		sess.mu.Unlock()

		return nil
	}
	conn := sess.conn
	sess.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("no voice connection to transcribe")
	}

	ctx, cancel := context.WithCancel(sess.ctx)
	stream, err := sess.transcriber.Start(ctx, conn, sess.wakeHint)
	if err != nil {
		cancel()

		return err
	}

	sess.mu.Lock()
	sess.streamCancel = cancel
	sess.mu.Unlock()

	guildID := sess.GuildID
	go func() {
		defer stream.Close()
		for ev := range stream.Events() {
			s.handleTranscription(guildID, ev)
		}
		s.logger.Debug("Transcription stream ended", zap.String("guild_id", guildID.String()))
	}()

	return nil
}

// stopStream tears down the live transcription stream, if any.
func (s *Service) stopStream(sess *Session) {
	sess.mu.Lock()
	cancel := sess.streamCancel
	sess.streamCancel = nil
	sess.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
