package voice

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
)

// TranscriptionEvent is one result from a transcription stream.
type TranscriptionEvent struct {
	// SpeakerID is a best-effort attribution of the utterance. When the
	// voice transport has not mapped the audio source to a user yet, this
	// carries the raw SSRC widened to a user ID.
	SpeakerID uint32
	Text      string
	// Final marks a complete utterance; interim results have Final false.
	Final bool
}

// TranscriptStream is a live stream of transcription events.
type TranscriptStream interface {
	// Events yields transcription results until the stream ends. The
	// channel is closed when the stream terminates for any reason.
	Events() <-chan TranscriptionEvent
	// Close terminates the stream and releases provider resources.
	Close()
}

// Transcriber turns a voice connection's audio into transcription events.
type Transcriber interface {
	Name() string
	// Available reports whether the provider can be used with the current
	// configuration and credentials.
	Available() bool
	// Start begins transcribing audio read from conn. The wake hint biases
	// the provider toward recognizing the bot's name.
	Start(ctx context.Context, conn Connection, wakeHint string) (TranscriptStream, error)
}

// Synthesizer turns response text into 24-kHz mono 16-bit PCM audio.
type Synthesizer interface {
	Name() string
	Available() bool
	Synthesize(ctx context.Context, text, voice string) ([]int16, error)
}

// Selection errors. A missing transcriber is fatal to session start; a
// missing synthesizer only degrades the session to text responses.
var (
	ErrNoTranscriber = errors.New("voice: no transcription provider available")
	ErrNoSynthesizer = errors.New("voice: no speech synthesis provider available")
)

// ProviderSelector picks concrete speech providers from configuration,
// falling back to the first available one when no explicit choice is set.
type ProviderSelector struct {
	logger       *zap.Logger
	cfg          *config.VoiceConfig
	transcribers []Transcriber
	synthesizers []Synthesizer
}

func NewProviderSelector(logger *zap.Logger, cfg *config.Config, transcribers []Transcriber, synthesizers []Synthesizer) *ProviderSelector {
	return &ProviderSelector{
		logger:       logger.Named("voice_providers"),
		cfg:          &cfg.Voice,
		transcribers: transcribers,
		synthesizers: synthesizers,
	}
}

// SelectTranscriber resolves the transcription provider for a new session.
func (p *ProviderSelector) SelectTranscriber() (Transcriber, error) {
	if name := p.cfg.TranscriptionProvider; name != "" {
		for _, t := range p.transcribers {
			if t.Name() != name {
				continue
			}
			if !t.Available() {
				return nil, fmt.Errorf("voice: transcription provider %q is configured but not available", name)
			}

			return t, nil
		}

		return nil, fmt.Errorf("voice: unknown transcription provider %q", name)
	}

	for _, t := range p.transcribers {
		if t.Available() {
			p.logger.Debug("Auto-selected transcription provider", zap.String("provider", t.Name()))

			return t, nil
		}
	}

	return nil, ErrNoTranscriber
}

// SelectSynthesizer resolves the speech synthesis provider for a new session.
func (p *ProviderSelector) SelectSynthesizer() (Synthesizer, error) {
	if name := p.cfg.TTSProvider; name != "" {
		for _, s := range p.synthesizers {
			if s.Name() != name {
				continue
			}
			if !s.Available() {
				return nil, fmt.Errorf("voice: speech provider %q is configured but not available", name)
			}

			return s, nil
		}

		return nil, fmt.Errorf("voice: unknown speech provider %q", name)
	}

	for _, s := range p.synthesizers {
		if s.Available() {
			p.logger.Debug("Auto-selected speech provider", zap.String("provider", s.Name()))

			return s, nil
		}
	}

	return nil, ErrNoSynthesizer
}
