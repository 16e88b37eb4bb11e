// Package voice implements the voice session orchestrator: lifecycle,
// occupancy handling, transcription routing, intent dispatch, playback and
// transcript export.
package voice

import (
	"github.com/sashabaranov/go-openai"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
)

// Module provides the voice session orchestrator and its collaborators.
var Module = fx.Module("voice",
	fx.Provide(
		NewNotifier,
		NewRegistry,
		NewGateway,
		NewSubtitleRenderer,
		NewExporter,
		NewResolver,
		NewDispatcher,
		NewPlaybackCoordinator,
		provideSelector,
		NewService,
	),
)

// provideSelector assembles the concrete speech providers. Selection order
// doubles as auto-detect preference: realtime transcription and the speech
// endpoint come first.
func provideSelector(logger *zap.Logger, cfg *config.Config, client *openai.Client) *ProviderSelector {
	transcribers := []Transcriber{
		NewRealtimeTranscriber(logger, cfg),
		NewWhisperTranscriber(logger, client),
	}
	synthesizers := []Synthesizer{
		NewSpeechSynthesizer(logger, client),
		NewRealtimeSynthesizer(logger, cfg),
	}

	return NewProviderSelector(logger, cfg, transcribers, synthesizers)
}
