package audio

// Format constants shared across the voice pipeline.
const (
	// Discord side.
	DiscordSampleRate = 48_000 // Hz
	DiscordChannels   = 2      // interleaved stereo
	DiscordFrameSize  = 960    // samples per channel (20 ms)

	// Provider side (OpenAI speech APIs).
	ProviderSampleRate = 24_000 // Hz
	ProviderChannels   = 1
	ProviderFrameSize  = 480                  // samples (20 ms)
	ProviderFrameBytes = ProviderFrameSize * 2 // 16-bit PCM

	// FrameDurationMs is the duration of one voice frame on both sides.
	FrameDurationMs = 20
)
