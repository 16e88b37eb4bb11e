package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	openairt "github.com/WqyJh/go-openai-realtime"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/pkg/audio"
)

// realtimeSynthesizer speaks through the realtime API: one websocket
// session per utterance, audio streamed back as base64 PCM deltas. Lower
// first-byte latency than the speech endpoint on long responses.
type realtimeSynthesizer struct {
	logger *zap.Logger
	apiKey string
}

func NewRealtimeSynthesizer(logger *zap.Logger, cfg *config.Config) Synthesizer {
	return &realtimeSynthesizer{
		logger: logger.Named("tts_realtime"),
		apiKey: cfg.OpenAI.APIKey,
	}
}

func (s *realtimeSynthesizer) Name() string { return "realtime" }

func (s *realtimeSynthesizer) Available() bool { return s.apiKey != "" }

func (s *realtimeSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]int16, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := openairt.NewClient(s.apiKey)
	conn, err := client.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime API: %w", err)
	}
	defer conn.Close()

	collector := &audioCollector{done: make(chan struct{})}
	handler := openairt.NewConnHandler(ctx, conn, collector.handle)
	go handler.Start()

	sessionUpdate := &openairt.SessionUpdateEvent{
		Session: openairt.ClientSession{
			Modalities:        []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
			Voice:             mapVoice(voice),
			OutputAudioFormat: openairt.AudioFormatPcm16,
		},
	}
	if err := conn.SendMessage(ctx, sessionUpdate); err != nil {
		return nil, fmt.Errorf("failed to configure realtime session: %w", err)
	}

	responseCreate := &openairt.ResponseCreateEvent{
		Response: openairt.ResponseCreateParams{
			Modalities:   []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
			Instructions: fmt.Sprintf("Repeat the following exactly, in a natural speaking voice: %s", text),
		},
	}
	if err := conn.SendMessage(ctx, responseCreate); err != nil {
		return nil, fmt.Errorf("failed to request speech: %w", err)
	}

	select {
	case <-collector.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	pcm, err := collector.result()
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Synthesized speech over realtime API",
		zap.Int("chars", len(text)),
		zap.Int("samples", len(pcm)))

	return pcm, nil
}

func mapVoice(voice string) openairt.Voice {
	switch voice {
	case "alloy":
		return openairt.VoiceAlloy
	case "echo":
		return openairt.VoiceEcho
	case "shimmer":
		return openairt.VoiceShimmer
	default:
		// The realtime API carries a narrower voice set than the speech
		// endpoint, so unknown profiles fall back.
		return openairt.VoiceShimmer
	}
}

type audioCollector struct {
	mu   sync.Mutex
	pcm  []byte
	err  error
	done chan struct{}
	once sync.Once
}

func (c *audioCollector) handle(_ context.Context, event openairt.ServerEvent) {
	switch event.ServerEventType() {
	case openairt.ServerEventTypeResponseAudioDelta:
		delta := event.(openairt.ResponseAudioDeltaEvent)
		data, err := base64.StdEncoding.DecodeString(delta.Delta)
		if err != nil {
			return
		}
		c.mu.Lock()
		c.pcm = append(c.pcm, data...)
		c.mu.Unlock()

	case openairt.ServerEventTypeResponseDone:
		c.once.Do(func() { close(c.done) })

	case openairt.ServerEventTypeError:
		errEvent := event.(openairt.ErrorEvent)
		c.mu.Lock()
		c.err = fmt.Errorf("realtime API error: %s", errEvent.Error.Message)
		c.mu.Unlock()
		c.once.Do(func() { close(c.done) })
	}
}

func (c *audioCollector) result() ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	return audio.BytesToPCM(c.pcm), nil
}
