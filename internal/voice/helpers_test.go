package voice_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap/zaptest"

	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/internal/dice"
	"github.com/fumblebot/fumblebot/internal/voice"
)

const (
	testGuildID       = discord.GuildID(100)
	testVoiceChannel  = discord.ChannelID(200)
	testTextChannel   = discord.ChannelID(300)
	testUserID        = discord.UserID(400)
	testSpeakerSSRC   = uint32(12345)
)

func testConfig() *config.Config {
	return &config.Config{
		Discord: config.DiscordConfig{StatusText: "rolling dice"},
		OpenAI:  config.OpenAIConfig{APIKey: "test", Models: []string{"gpt-4o-mini"}},
		Voice: config.VoiceConfig{
			BotName:               "fumblebot",
			TTSVoice:              "onyx",
			SubtitleLines:         8,
			SubtitleDebounceMs:    10,
			SummaryMinEntries:     3,
			ContextCacheSize:      8,
			MaxConcurrentSessions: 5,
		},
	}
}

// callRecorder collects an ordered log of calls across fakes, so tests can
// assert how synthesis and frame writes interleave.
type callRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *callRecorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *callRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)

	return out
}

// fakeConn satisfies voice.Connection without touching the network.
type fakeConn struct {
	mu       sync.Mutex
	writes   int
	closed   bool
	recorder *callRecorder

	packets chan *voice.AudioPacket
}

func newFakeConn() *fakeConn {
	return &fakeConn{packets: make(chan *voice.AudioPacket)}
}

func (c *fakeConn) WriteOpus(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.recorder != nil {
		c.recorder.add("frame")
	}

	return nil
}

func (c *fakeConn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writes
}

func (c *fakeConn) ReadPacket() (*voice.AudioPacket, error) {
	p, ok := <-c.packets
	if !ok {
		return nil, errors.New("connection closed")
	}

	return p, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.packets)
	}

	return nil
}

// fakeGateway records everything the orchestrator does to the platform.
type fakeGateway struct {
	mu sync.Mutex

	conn     *fakeConn
	joins    int
	leaves   int
	joinErr  error
	humans   int
	messages []string
	edits    []string
	files    []string
	editErr  error
	names    map[discord.UserID]string
	channels map[string]discord.ChannelID
	history  []voice.FoundMessage
	presence string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		conn:     newFakeConn(),
		humans:   1,
		names:    make(map[discord.UserID]string),
		channels: make(map[string]discord.ChannelID),
	}
}

func (g *fakeGateway) JoinVoice(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID) (voice.Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.joinErr != nil {
		return nil, g.joinErr
	}
	g.joins++

	return g.conn, nil
}

func (g *fakeGateway) LeaveVoice(ctx context.Context, guildID discord.GuildID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaves++

	return nil
}

func (g *fakeGateway) SendMessage(channelID discord.ChannelID, content string) (discord.MessageID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, content)

	return discord.MessageID(len(g.messages)), nil
}

func (g *fakeGateway) EditMessage(channelID discord.ChannelID, messageID discord.MessageID, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editErr != nil {
		return g.editErr
	}
	g.edits = append(g.edits, content)

	return nil
}

func (g *fakeGateway) SendFile(channelID discord.ChannelID, content, filename string, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files = append(g.files, string(data))

	return nil
}

func (g *fakeGateway) HumanMemberCount(guildID discord.GuildID, channelID discord.ChannelID) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.humans, nil
}

func (g *fakeGateway) setHumans(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.humans = n
}

func (g *fakeGateway) ResolveChannelByName(guildID discord.GuildID, name string) (discord.ChannelID, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.channels[strings.ToLower(name)]

	return id, strings.ToLower(name), ok
}

func (g *fakeGateway) SearchMessages(channelID discord.ChannelID, query string, limit int) ([]voice.FoundMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var hits []voice.FoundMessage
	for _, m := range g.history {
		if strings.Contains(strings.ToLower(m.Content), strings.ToLower(query)) {
			hits = append(hits, m)
		}
		if len(hits) >= limit {
			break
		}
	}

	return hits, nil
}

func (g *fakeGateway) MemberDisplayName(guildID discord.GuildID, userID discord.UserID) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if name, ok := g.names[userID]; ok {
		return name
	}

	return fmt.Sprintf("Speaker %d", uint64(userID)%10_000)
}

func (g *fakeGateway) SetPresence(ctx context.Context, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.presence = status

	return nil
}

func (g *fakeGateway) sentMessages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.messages))
	copy(out, g.messages)

	return out
}

func (g *fakeGateway) containsMessage(substr string) bool {
	for _, m := range g.sentMessages() {
		if strings.Contains(m, substr) {
			return true
		}
	}

	return false
}

func (g *fakeGateway) sentFiles() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.files))
	copy(out, g.files)

	return out
}

// fakeCompleter returns a canned reply, or an error when err is set.
type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (c *fakeCompleter) Complete(ctx context.Context, userPrompt, systemPrompt string, maxTokens int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, userPrompt)
	if c.err != nil {
		return "", c.err
	}

	return c.reply, nil
}

func (c *fakeCompleter) sentPrompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.prompts))
	copy(out, c.prompts)

	return out
}

// fakeTranscriber hands the test a controllable event stream.
type fakeTranscriber struct {
	mu      sync.Mutex
	starts  int
	streams []*fakeStream
}

func (t *fakeTranscriber) Name() string { return "fake" }

func (t *fakeTranscriber) Available() bool { return true }

func (t *fakeTranscriber) Start(ctx context.Context, conn voice.Connection, wakeHint string) (voice.TranscriptStream, error) {
	stream := &fakeStream{events: make(chan voice.TranscriptionEvent, 16)}
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	t.mu.Lock()
	t.starts++
	t.streams = append(t.streams, stream)
	t.mu.Unlock()

	return stream, nil
}

func (t *fakeTranscriber) current() *fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) == 0 {
		return nil
	}

	return t.streams[len(t.streams)-1]
}

func (t *fakeTranscriber) startCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.starts
}

type fakeStream struct {
	mu     sync.Mutex
	closed bool
	events chan voice.TranscriptionEvent
}

func (s *fakeStream) Events() <-chan voice.TranscriptionEvent { return s.events }

func (s *fakeStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *fakeStream) emit(ev voice.TranscriptionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- ev
	}
}

// fakeSynth returns one frame of silence per request unless pcm overrides
// the output length. Fields are set before the session starts.
type fakeSynth struct {
	mu       sync.Mutex
	calls    []string
	pcm      []int16
	recorder *callRecorder
}

func (s *fakeSynth) Name() string { return "fake" }

func (s *fakeSynth) Available() bool { return true }

func (s *fakeSynth) Synthesize(ctx context.Context, text, voice string) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	if s.recorder != nil {
		s.recorder.add("synth:" + text)
	}
	if s.pcm != nil {
		out := make([]int16, len(s.pcm))
		copy(out, s.pcm)

		return out, nil
	}

	return make([]int16, 480), nil
}

func (s *fakeSynth) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)

	return out
}

// testHarness bundles the orchestrator with its fakes.
type testHarness struct {
	service     *voice.Service
	registry    *voice.Registry
	playback    *voice.PlaybackCoordinator
	gateway     *fakeGateway
	transcriber *fakeTranscriber
	synth       *fakeSynth
	completer   *fakeCompleter
	cfg         *config.Config
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	gw := newFakeGateway()
	completer := &fakeCompleter{reply: "a fine recap"}
	transcriber := &fakeTranscriber{}
	synth := &fakeSynth{}

	registry := voice.NewRegistry(logger, cfg)
	notifier := voice.NewNotifier(logger)
	subtitles := voice.NewSubtitleRenderer(logger, cfg, gw)
	exporter := voice.NewExporter(logger, cfg, gw, completer)
	resolver, err := voice.NewResolver(logger, cfg, completer)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	dispatcher := voice.NewDispatcher(logger, cfg, dice.NewRoller(), completer, gw)
	playback := voice.NewPlaybackCoordinator(logger, cfg, registry, subtitles)
	selector := voice.NewProviderSelector(logger, cfg,
		[]voice.Transcriber{transcriber}, []voice.Synthesizer{synth})

	service := voice.NewService(logger, cfg, gw, registry, selector, resolver,
		dispatcher, playback, exporter, subtitles, notifier)

	return &testHarness{
		service:     service,
		registry:    registry,
		playback:    playback,
		gateway:     gw,
		transcriber: transcriber,
		synth:       synth,
		completer:   completer,
		cfg:         cfg,
	}
}
