package voice

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/pkg/audio"
)

const (
	// A speaker pausing this long ends their utterance.
	whisperSilenceGap = 900 * time.Millisecond
	// Hard cap per upload; a monologue gets split.
	whisperMaxBuffer = 25 * time.Second
	whisperFlushTick = 150 * time.Millisecond
)

// whisperTranscriber batches per-speaker audio and uploads each utterance
// to the Whisper endpoint once the speaker goes quiet. Higher latency than
// the realtime stream, no websocket dependency.
type whisperTranscriber struct {
	logger *zap.Logger
	client *openai.Client
}

func NewWhisperTranscriber(logger *zap.Logger, client *openai.Client) Transcriber {
	return &whisperTranscriber{
		logger: logger.Named("stt_whisper"),
		client: client,
	}
}

func (t *whisperTranscriber) Name() string { return "whisper" }

func (t *whisperTranscriber) Available() bool { return t.client != nil }

func (t *whisperTranscriber) Start(ctx context.Context, conn Connection, wakeHint string) (TranscriptStream, error) {
	proc, err := audio.NewProcessor()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := &whisperStream{
		logger:   t.logger,
		client:   t.client,
		wakeHint: wakeHint,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan TranscriptionEvent, 64),
		buffers:  make(map[uint32]*speakerBuffer),
	}

	go stream.pump(conn, proc)

	t.logger.Info("Whisper batch transcription started")

	return stream, nil
}

type speakerBuffer struct {
	pcm      []int16
	lastSeen time.Time
}

type whisperStream struct {
	logger   *zap.Logger
	client   *openai.Client
	wakeHint string
	ctx      context.Context
	cancel   context.CancelFunc
	events   chan TranscriptionEvent

	mu      sync.Mutex
	buffers map[uint32]*speakerBuffer

	wg      sync.WaitGroup
	emitMu  sync.Mutex
	closed  bool
}

func (s *whisperStream) Events() <-chan TranscriptionEvent { return s.events }

func (s *whisperStream) Close() { s.cancel() }

// pump accumulates audio per speaker and flushes utterances on silence.
// Uploads run concurrently so a slow one never stalls packet intake.
func (s *whisperStream) pump(conn Connection, proc audio.Processor) {
	defer func() {
		s.wg.Wait()
		s.emitMu.Lock()
		s.closed = true
		close(s.events)
		s.emitMu.Unlock()
	}()
	defer proc.Close()

	packets := make(chan *AudioPacket, 64)
	go func() {
		defer close(packets)
		for {
			packet, err := conn.ReadPacket()
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Debug("Voice packet read failed", zap.Error(err))

				continue
			}
			select {
			case packets <- packet:
			case <-s.ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(whisperFlushTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case packet, ok := <-packets:
			if !ok {
				return
			}
			pcm, err := proc.OpusToPCM(packet.Opus)
			if err != nil {
				continue
			}
			s.mu.Lock()
			buf, ok := s.buffers[packet.SSRC]
			if !ok {
				buf = &speakerBuffer{}
				s.buffers[packet.SSRC] = buf
			}
			buf.pcm = append(buf.pcm, pcm...)
			buf.lastSeen = time.Now()
			s.mu.Unlock()

		case <-ticker.C:
			for ssrc, pcm := range s.takeFinished() {
				s.wg.Add(1)
				go func(ssrc uint32, pcm []int16) {
					defer s.wg.Done()
					s.transcribe(ssrc, pcm)
				}(ssrc, pcm)
			}
		}
	}
}

// takeFinished removes and returns buffers whose speakers went quiet or
// that hit the size cap.
func (s *whisperStream) takeFinished() map[uint32][]int16 {
	maxSamples := int(whisperMaxBuffer.Seconds()) * audio.ProviderSampleRate

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uint32][]int16)
	for ssrc, buf := range s.buffers {
		if len(buf.pcm) == 0 {
			continue
		}
		if time.Since(buf.lastSeen) >= whisperSilenceGap || len(buf.pcm) >= maxSamples {
			out[ssrc] = buf.pcm
			buf.pcm = nil
		}
	}

	return out
}

func (s *whisperStream) transcribe(ssrc uint32, pcm []int16) {
	// Sub-200ms blips are clicks and breaths, not words.
	if len(pcm) < audio.ProviderSampleRate/5 {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(audio.WAV(pcm, audio.ProviderSampleRate)),
		Prompt:   fmt.Sprintf("Tabletop RPG session. The assistant is called %s.", s.wakeHint),
	})
	if err != nil {
		s.logger.Warn("Whisper transcription failed", zap.Error(err))

		return
	}

	if resp.Text == "" {
		return
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.events <- TranscriptionEvent{SpeakerID: ssrc, Text: resp.Text, Final: true}:
	default:
		s.logger.Warn("Transcription event dropped, consumer is behind")
	}
}
