package voice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/pkg/audio"
)

// realtimeTranscriber streams channel audio to the OpenAI Realtime API and
// yields finalized utterances as the server's voice activity detection
// commits them.
type realtimeTranscriber struct {
	logger *zap.Logger
	apiKey string
}

func NewRealtimeTranscriber(logger *zap.Logger, cfg *config.Config) Transcriber {
	return &realtimeTranscriber{
		logger: logger.Named("stt_realtime"),
		apiKey: cfg.OpenAI.APIKey,
	}
}

func (t *realtimeTranscriber) Name() string { return "realtime" }

func (t *realtimeTranscriber) Available() bool { return t.apiKey != "" }

func (t *realtimeTranscriber) Start(ctx context.Context, conn Connection, wakeHint string) (TranscriptStream, error) {
	client := openairt.NewClient(t.apiKey)

	rtConn, err := client.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime API: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := &realtimeStream{
		logger: t.logger,
		ctx:    ctx,
		cancel: cancel,
		conn:   rtConn,
		events: make(chan TranscriptionEvent, 64),
	}

	// Text-only session with server VAD: the server segments utterances and
	// transcribes each committed buffer. The wake hint biases recognition
	// toward the bot's name.
	sessionUpdate := &openairt.SessionUpdateEvent{
		Session: openairt.ClientSession{
			Modalities: []openairt.Modality{openairt.ModalityText},
			InputAudioTranscription: &openairt.InputAudioTranscription{
				Model: openai.Whisper1,
			},
			Instructions: fmt.Sprintf("Transcribe tabletop RPG table talk. The word %q is a name, not noise.", wakeHint),
		},
	}
	if err := rtConn.SendMessage(ctx, sessionUpdate); err != nil {
		stream.Close()

		return nil, fmt.Errorf("failed to configure realtime session: %w", err)
	}

	handler := openairt.NewConnHandler(ctx, rtConn, stream.handleServerEvent)
	go handler.Start()
	go stream.pumpAudio(conn)
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	t.logger.Info("Realtime transcription stream started")

	return stream, nil
}

type realtimeStream struct {
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	conn   *openairt.Conn
	events chan TranscriptionEvent

	// lastSSRC attributes the next transcript to the most recent audio
	// source. Overlapping speakers can misattribute; good enough until
	// SSRC-to-user mapping lands.
	lastSSRC atomic.Uint32

	mu     sync.Mutex
	closed bool
}

func (s *realtimeStream) Events() <-chan TranscriptionEvent { return s.events }

func (s *realtimeStream) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	s.cancel()
	_ = s.conn.Close()
}

// pumpAudio forwards decoded channel audio to the realtime session.
func (s *realtimeStream) pumpAudio(conn Connection) {
	proc, err := audio.NewProcessor()
	if err != nil {
		s.logger.Error("Failed to create audio processor", zap.Error(err))

		return
	}
	defer proc.Close()

	for {
		if s.ctx.Err() != nil {
			return
		}

		packet, err := conn.ReadPacket()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Debug("Voice packet read failed", zap.Error(err))

			continue
		}

		s.lastSSRC.Store(packet.SSRC)

		pcm, err := proc.OpusToPCM(packet.Opus)
		if err != nil {
			s.logger.Debug("Opus decode failed", zap.Error(err))

			continue
		}

		event := &openairt.InputAudioBufferAppendEvent{Audio: audio.PCMToBase64(pcm)}
		if err := s.conn.SendMessage(s.ctx, event); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("Failed to send audio to realtime API", zap.Error(err))
		}
	}
}

func (s *realtimeStream) handleServerEvent(ctx context.Context, event openairt.ServerEvent) {
	switch event.ServerEventType() {
	case openairt.ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		completed := event.(openairt.ConversationItemInputAudioTranscriptionCompletedEvent)
		s.emit(TranscriptionEvent{
			SpeakerID: s.lastSSRC.Load(),
			Text:      completed.Transcript,
			Final:     true,
		})

	case openairt.ServerEventTypeError:
		errEvent := event.(openairt.ErrorEvent)
		s.logger.Warn("Realtime API error",
			zap.String("type", errEvent.Error.Type),
			zap.String("message", errEvent.Error.Message))
	}
}

func (s *realtimeStream) emit(ev TranscriptionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.events <- ev:
	default:
		s.logger.Warn("Transcription event dropped, consumer is behind")
	}
}
