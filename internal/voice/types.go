package voice

import (
	"context"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap"
)

// Mode controls what a session does with addressed utterances.
type Mode string

const (
	// ModeTranscribe records everything, including addressed utterances,
	// but never dispatches actions.
	ModeTranscribe Mode = "transcribe"
	// ModeAssistant additionally resolves and executes addressed utterances.
	ModeAssistant Mode = "assistant"
)

// TranscriptEntry is one utterance in a session transcript. Entries are
// immutable once appended.
//
// Entries are ordered by the moment their triggering event was processed,
// not by real-world speech time: finalized utterances from interleaved
// speakers can arrive out of true speaking order from a streaming provider.
// That approximation is deliberate.
type TranscriptEntry struct {
	SpeakerID   discord.UserID
	SpeakerName string
	Text        string
	TimestampMs int64
	IsCommand   bool
	FromBot     bool
}

// EventType enumerates the session events surfaced to external observers.
type EventType string

const (
	EventStarted       EventType = "started"
	EventPaused        EventType = "paused"
	EventResumed       EventType = "resumed"
	EventStopped       EventType = "stopped"
	EventCommand       EventType = "command"
	EventResponse      EventType = "response"
	EventTranscription EventType = "transcription"
	EventError         EventType = "error"
)

// Event is a session lifecycle notification.
type Event struct {
	Type    EventType
	GuildID discord.GuildID
	Detail  string
}

// Notifier fans session events out to subscribers. Subscribers must not
// block; they are invoked inline.
type Notifier struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs []func(Event)
}

func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger.Named("voice_events")}
}

// Subscribe registers a callback for all future events.
func (n *Notifier) Subscribe(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

// Emit delivers an event to every subscriber.
func (n *Notifier) Emit(ev Event) {
	n.logger.Debug("Session event",
		zap.String("type", string(ev.Type)),
		zap.String("guild_id", ev.GuildID.String()),
		zap.String("detail", ev.Detail))

	n.mu.RLock()
	subs := n.subs
	n.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// AudioPacket is one Opus frame received from the voice channel.
type AudioPacket struct {
	SSRC   uint32
	UserID discord.UserID // zero when the sender is not yet mapped
	Opus   []byte
}

// FoundMessage is one hit returned by the message-search capability.
type FoundMessage struct {
	Author    string
	Content   string
	Timestamp time.Time
}

// Connection is a live voice-channel connection.
type Connection interface {
	// WriteOpus sends one 20-ms Opus frame.
	WriteOpus(frame []byte) error
	// ReadPacket blocks for the next received audio packet.
	ReadPacket() (*AudioPacket, error)
	// Close releases the connection.
	Close(ctx context.Context) error
}

// Gateway is the chat-platform capability consumed by the orchestrator.
// The production implementation is backed by the Discord session; tests use
// fakes.
type Gateway interface {
	JoinVoice(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID) (Connection, error)
	LeaveVoice(ctx context.Context, guildID discord.GuildID) error

	SendMessage(channelID discord.ChannelID, content string) (discord.MessageID, error)
	EditMessage(channelID discord.ChannelID, messageID discord.MessageID, content string) error
	SendFile(channelID discord.ChannelID, content, filename string, data []byte) error

	// HumanMemberCount counts the non-bot members currently in a voice channel.
	HumanMemberCount(guildID discord.GuildID, channelID discord.ChannelID) (int, error)

	// ResolveChannelByName finds a text channel by exact then substring match.
	ResolveChannelByName(guildID discord.GuildID, name string) (discord.ChannelID, string, bool)

	// SearchMessages scans recent channel history for the query.
	SearchMessages(channelID discord.ChannelID, query string, limit int) ([]FoundMessage, error)

	MemberDisplayName(guildID discord.GuildID, userID discord.UserID) string

	SetPresence(ctx context.Context, status string) error
}

// Session is the live state for one guild's voice session. All mutation
// happens on the session's own task loop; other goroutines hand work in via
// Registry.Post so ordering and stale-session discards are structural.
type Session struct {
	GuildID       discord.GuildID
	ChannelID     discord.ChannelID
	TextChannelID discord.ChannelID // zero when there is no companion text channel
	StartedBy     discord.UserID
	StartedAt     time.Time

	transcriber Transcriber
	synthesizer Synthesizer // nil means text-only responses
	wakeHint    string

	mu           sync.Mutex
	mode         Mode
	paused       bool
	conn         Connection
	streamCancel context.CancelFunc

	transcript *Transcript
	subtitles  *SubtitleView

	// speakMu serializes playback per guild; a voice channel is a
	// single-owner audio resource.
	speakMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan func()
	done   chan struct{}
}

// run processes queued tasks one at a time until the session is stopped.
// Tasks still queued at stop time are discarded.
func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

// post queues fn on the session loop. Returns false once the session has
// been stopped.
func (s *Session) post(fn func()) bool {
	select {
	case s.tasks <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Mode returns the session's current mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mode
}

// Paused reports whether the session is paused for an empty channel.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paused
}

func (s *Session) setPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	s.mu.Unlock()
}

func (s *Session) connection() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn
}

func (s *Session) setConnection(c Connection) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

// Transcript exposes the session transcript for read access.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}
