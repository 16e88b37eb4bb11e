package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
)

// VoiceError wraps voice session errors with guild context.
type VoiceError struct {
	GuildID discord.GuildID
	Op      string
	Err     error
}

func (e *VoiceError) Error() string {
	return fmt.Sprintf("voice %s (guild %s): %v", e.Op, e.GuildID, e.Err)
}

func (e *VoiceError) Unwrap() error { return e.Err }

// Sentinel errors for session lifecycle operations.
var (
	ErrSessionAlreadyActive = fmt.Errorf("voice session already active in this guild")
	ErrSessionNotActive     = fmt.Errorf("no active voice session in this guild")
	ErrTooManySessions      = fmt.Errorf("too many concurrent voice sessions")
)

// StartParams carries everything needed to create a session.
type StartParams struct {
	GuildID       discord.GuildID
	ChannelID     discord.ChannelID
	TextChannelID discord.ChannelID
	Mode          Mode
	StartedBy     discord.UserID
	Transcriber   Transcriber
	Synthesizer   Synthesizer
	WakeHint      string
}

// Registry owns the guild-to-session map. At most one session exists per
// guild; creation and removal are atomic with respect to the map.
type Registry struct {
	logger *zap.Logger
	cfg    *config.VoiceConfig

	mu       sync.RWMutex
	sessions map[discord.GuildID]*Session
}

func NewRegistry(logger *zap.Logger, cfg *config.Config) *Registry {
	return &Registry{
		logger:   logger.Named("voice_registry"),
		cfg:      &cfg.Voice,
		sessions: make(map[discord.GuildID]*Session),
	}
}

// Start creates, stores and activates a session for the guild. It fails with
// ErrSessionAlreadyActive if one exists and ErrTooManySessions at the
// concurrency cap.
func (r *Registry) Start(params StartParams) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[params.GuildID]; ok {
		return nil, ErrSessionAlreadyActive
	}
	if r.cfg.MaxConcurrentSessions > 0 && len(r.sessions) >= r.cfg.MaxConcurrentSessions {
		return nil, ErrTooManySessions
	}

	mode := params.Mode
	if mode == "" {
		mode = ModeTranscribe
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		GuildID:       params.GuildID,
		ChannelID:     params.ChannelID,
		TextChannelID: params.TextChannelID,
		StartedBy:     params.StartedBy,
		StartedAt:     time.Now(),
		transcriber:   params.Transcriber,
		synthesizer:   params.Synthesizer,
		wakeHint:      params.WakeHint,
		mode:          mode,
		transcript:    NewTranscript(),
		ctx:           ctx,
		cancel:        cancel,
		tasks:         make(chan func(), 64),
		done:          make(chan struct{}),
	}

	r.sessions[params.GuildID] = sess
	go sess.run()

	r.logger.Info("Voice session registered",
		zap.String("guild_id", params.GuildID.String()),
		zap.String("channel_id", params.ChannelID.String()),
		zap.String("mode", string(mode)),
		zap.Int("active_sessions", len(r.sessions)))

	return sess, nil
}

// Stop removes the guild's session from the registry and shuts down its
// task loop, waiting for the in-flight task to finish. The removed session
// is returned so the caller can finalize it (export, disconnect). Once Stop
// returns, no further tasks can be posted to the session.
func (r *Registry) Stop(guildID discord.GuildID) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[guildID]
	if ok {
		delete(r.sessions, guildID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotActive
	}

	sess.cancel()
	<-sess.done

	r.logger.Info("Voice session removed", zap.String("guild_id", guildID.String()))

	return sess, nil
}

// Get returns the guild's active session. Callers must not retain the
// pointer across blocking work; cross-goroutine session access goes through
// Post, which re-checks registration.
func (r *Registry) Get(guildID discord.GuildID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[guildID]

	return sess, ok
}

// Post schedules fn on the guild's session loop. The function is silently
// dropped if the session is gone or stops before fn runs, so callbacks from
// earlier sessions can never touch a later one.
func (r *Registry) Post(guildID discord.GuildID, fn func(sess *Session)) bool {
	r.mu.RLock()
	sess, ok := r.sessions[guildID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	return sess.post(func() { fn(sess) })
}

// EnableAssistantMode upgrades a transcribe-only session in place. It is
// idempotent and never downgrades.
func (r *Registry) EnableAssistantMode(guildID discord.GuildID) error {
	r.mu.RLock()
	sess, ok := r.sessions[guildID]
	r.mu.RUnlock()

	if !ok {
		return ErrSessionNotActive
	}

	sess.mu.Lock()
	changed := sess.mode != ModeAssistant
	sess.mode = ModeAssistant
	sess.mu.Unlock()

	if changed {
		r.logger.Info("Assistant mode enabled", zap.String("guild_id", guildID.String()))
	}

	return nil
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
