package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/pkg/audio"
)

// appendEntry records one transcript line and mirrors it into the live
// subtitle view when one is bound. Must run on the session loop.
func appendEntry(sess *Session, renderer *SubtitleRenderer, e TranscriptEntry) {
	sess.transcript.Append(e)
	if sess.subtitles != nil && renderer != nil {
		renderer.Append(sess.subtitles, e.SpeakerName, e.Text)
	}
}

// PlaybackCoordinator speaks synthesized audio into a session's voice
// channel. Playback is serialized per guild through the session's speak
// lock; a second Speak blocks until the first finishes rather than talking
// over it.
type PlaybackCoordinator struct {
	logger    *zap.Logger
	cfg       *config.VoiceConfig
	registry  *Registry
	subtitles *SubtitleRenderer
}

func NewPlaybackCoordinator(logger *zap.Logger, cfg *config.Config, registry *Registry, subtitles *SubtitleRenderer) *PlaybackCoordinator {
	return &PlaybackCoordinator{
		logger:    logger.Named("voice_playback"),
		cfg:       &cfg.Voice,
		registry:  registry,
		subtitles: subtitles,
	}
}

// Speak synthesizes text and plays it, then records the spoken line in the
// transcript as the bot's own utterance.
func (p *PlaybackCoordinator) Speak(ctx context.Context, sess *Session, text string) error {
	if err := p.speak(ctx, sess, text); err != nil {
		return err
	}

	p.registry.Post(sess.GuildID, func(sess *Session) {
		appendEntry(sess, p.subtitles, TranscriptEntry{
			SpeakerName: p.cfg.BotName,
			Text:        text,
			FromBot:     true,
		})
	})

	return nil
}

// SpeakAck plays the short acknowledgment cue without blocking the caller
// and without a transcript entry. The cue is only useful before the real
// response; if another playback already holds the channel, it is dropped
// rather than queued, so "Yes?" can never trail the answer it announced.
func (p *PlaybackCoordinator) SpeakAck(sess *Session) {
	if p.cfg.AckCue == "" || sess.synthesizer == nil {
		return
	}

	go func() {
		if !sess.speakMu.TryLock() {
			return
		}
		defer sess.speakMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := p.speakLocked(ctx, sess, p.cfg.AckCue); err != nil {
			p.logger.Debug("Ack cue failed", zap.Error(err))
		}
	}()
}

func (p *PlaybackCoordinator) speak(ctx context.Context, sess *Session, text string) error {
	sess.speakMu.Lock()
	defer sess.speakMu.Unlock()

	return p.speakLocked(ctx, sess, text)
}

// speakLocked does the synthesize-encode-pace work. Callers hold speakMu.
func (p *PlaybackCoordinator) speakLocked(ctx context.Context, sess *Session, text string) error {
	synth := sess.synthesizer
	if synth == nil {
		return ErrNoSynthesizer
	}

	conn := sess.connection()
	if conn == nil {
		return errors.New("voice: no live connection for playback")
	}

	pcm, err := synth.Synthesize(ctx, text, p.cfg.TTSVoice)
	if err != nil {
		return fmt.Errorf("speech synthesis: %w", err)
	}
	if len(pcm) == 0 {
		return nil
	}

	proc, err := audio.NewProcessor()
	if err != nil {
		return err
	}
	defer proc.Close()

	frames := audio.SplitFrames(pcm, audio.ProviderFrameSize)
	p.logger.Debug("Playing synthesized speech",
		zap.String("guild_id", sess.GuildID.String()),
		zap.Int("frames", len(frames)))

	// Pace frames against wall clock rather than sleeping a fixed interval
	// per frame, so encode time does not accumulate as drift.
	start := time.Now()
	for i, frame := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		op, err := proc.PCMToOpus(frame)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		if err := conn.WriteOpus(op); err != nil {
			return fmt.Errorf("voice write: %w", err)
		}

		next := start.Add(time.Duration(i+1) * audio.FrameDurationMs * time.Millisecond)
		if d := time.Until(next); d > 0 {
			time.Sleep(d)
		}
	}

	return nil
}
