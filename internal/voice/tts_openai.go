package voice

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/pkg/audio"
)

// speechSynthesizer uses the OpenAI speech endpoint. One HTTP round trip
// per response, raw PCM back.
type speechSynthesizer struct {
	logger *zap.Logger
	client *openai.Client
}

func NewSpeechSynthesizer(logger *zap.Logger, client *openai.Client) Synthesizer {
	return &speechSynthesizer{
		logger: logger.Named("tts_speech"),
		client: client,
	}
}

func (s *speechSynthesizer) Name() string { return "speech" }

func (s *speechSynthesizer) Available() bool { return s.client != nil }

func (s *speechSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]int16, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	started := time.Now()
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech response: %w", err)
	}

	pcm := audio.BytesToPCM(data)
	s.logger.Debug("Synthesized speech",
		zap.Int("chars", len(text)),
		zap.Duration("latency", time.Since(started)),
		zap.Int("samples", len(pcm)))

	return pcm, nil
}
