package config

import (
	"fmt"
	"os"

	"github.com/diamondburned/arikawa/v3/discord"
	"gopkg.in/yaml.v3"
)

// DiscordConfig stores Discord specific configurations.
type DiscordConfig struct {
	BotToken      string             `yaml:"bot_token"`
	ApplicationID *discord.Snowflake `yaml:"application_id"`
	GuildIDs      []string           `yaml:"guild_ids"`
	StatusText    string             `yaml:"status_text"`
}

// OpenAIConfig stores OpenAI specific configurations.
type OpenAIConfig struct {
	APIKey string   `yaml:"api_key"`
	Models []string `yaml:"models"`
}

// VoiceConfig stores voice session specific configurations.
type VoiceConfig struct {
	// BotName is the wake word. Utterances addressing the bot start with
	// "hey <BotName>" or "<BotName> ...".
	BotName string `yaml:"bot_name"`

	// TranscriptionProvider selects the speech-to-text backend: "realtime",
	// "whisper", or empty for auto-detect by availability.
	TranscriptionProvider string `yaml:"transcription_provider"`

	// TTSProvider selects the synthesis backend: "speech", "realtime", or
	// empty for auto-detect by availability.
	TTSProvider string `yaml:"tts_provider"`

	// TTSVoice is the voice profile passed to the synthesizer.
	TTSVoice string `yaml:"tts_voice"`

	// IntentModel is the model used for stage-2 intent classification and
	// free-form answers. Defaults to the first configured OpenAI model.
	IntentModel string `yaml:"intent_model"`

	SubtitleLines      int `yaml:"subtitle_lines"`
	SubtitleDebounceMs int `yaml:"subtitle_debounce_ms"`

	// SummaryMinEntries is the minimum transcript length before an AI
	// summary is requested on session stop.
	SummaryMinEntries int `yaml:"summary_min_entries"`

	// ContextCacheSize bounds the per-guild recent-utterance cache fed to
	// stage-2 intent classification.
	ContextCacheSize int `yaml:"context_cache_size"`

	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	// AckCue is spoken immediately on wake-word detection to mask the
	// latency of slower responses. Defaults to "Yes?".
	AckCue string `yaml:"ack_cue"`
}

// Config stores the application configuration.
type Config struct {
	Discord  DiscordConfig `yaml:"discord"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Voice    VoiceConfig   `yaml:"voice"`
	LogLevel string        `yaml:"log_level"`
}

// LoadConfig loads the configuration from the given file path.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Voice.BotName == "" {
		c.Voice.BotName = "fumblebot"
	}
	if c.Voice.TTSVoice == "" {
		c.Voice.TTSVoice = "onyx"
	}
	if c.Voice.SubtitleLines <= 0 {
		c.Voice.SubtitleLines = 8
	}
	if c.Voice.SubtitleDebounceMs <= 0 {
		c.Voice.SubtitleDebounceMs = 500
	}
	if c.Voice.SummaryMinEntries <= 0 {
		c.Voice.SummaryMinEntries = 3
	}
	if c.Voice.ContextCacheSize <= 0 {
		c.Voice.ContextCacheSize = 64
	}
	if c.Voice.MaxConcurrentSessions <= 0 {
		c.Voice.MaxConcurrentSessions = 5
	}
	if c.Voice.AckCue == "" {
		c.Voice.AckCue = "Yes?"
	}
}

func (c *Config) validate() error {
	switch c.Voice.TranscriptionProvider {
	case "", "realtime", "whisper":
	default:
		return fmt.Errorf("unknown transcription provider %q", c.Voice.TranscriptionProvider)
	}

	switch c.Voice.TTSProvider {
	case "", "speech", "realtime":
	default:
		return fmt.Errorf("unknown tts provider %q", c.Voice.TTSProvider)
	}

	return nil
}
