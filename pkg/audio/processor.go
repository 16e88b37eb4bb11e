// Package audio converts between Discord Opus frames and the 24-kHz mono
// PCM format spoken by the speech providers.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"layeh.com/gopus"
)

// Processor holds the Opus codec pair for one voice connection.
//
// Incoming: Discord Opus -> 48 k stereo PCM -> mono -> 24 k -> provider.
// Outgoing: provider 24 k mono PCM -> 48 k -> stereo -> Opus -> Discord.
type Processor interface {
	// OpusToPCM decodes one Discord Opus frame to 24-kHz mono samples.
	OpusToPCM(opus []byte) ([]int16, error)

	// PCMToOpus encodes one 20-ms frame of 24-kHz mono samples (480
	// samples, zero-padded if short) to a Discord Opus frame.
	PCMToOpus(pcm []int16) ([]byte, error)

	Close()
}

type processor struct {
	mu      sync.Mutex
	closed  bool
	decoder *gopus.Decoder
	encoder *gopus.Encoder
}

// NewProcessor creates a codec pair configured for speech.
func NewProcessor() (Processor, error) {
	decoder, err := gopus.NewDecoder(DiscordSampleRate, DiscordChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	encoder, err := gopus.NewEncoder(DiscordSampleRate, DiscordChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	encoder.SetBitrate(48_000)

	return &processor{decoder: decoder, encoder: encoder}, nil
}

func (p *processor) OpusToPCM(opus []byte) ([]int16, error) {
	if len(opus) == 0 {
		return nil, errors.New("opus payload empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("processor closed")
	}

	stereo48, err := p.decoder.Decode(opus, DiscordFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	mono48 := downmixStereo(stereo48)

	return Resample(mono48, DiscordSampleRate, ProviderSampleRate), nil
}

func (p *processor) PCMToOpus(pcm []int16) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("processor closed")
	}

	frame := make([]int16, ProviderFrameSize)
	copy(frame, pcm) // zero-pads a short trailing frame

	mono48 := Resample(frame, ProviderSampleRate, DiscordSampleRate)
	stereo48 := make([]int16, 0, len(mono48)*2)
	for _, s := range mono48 {
		stereo48 = append(stereo48, s, s)
	}

	data, err := p.encoder.Encode(stereo48, DiscordFrameSize, 4000)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}

	return data, nil
}

func (p *processor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func downmixStereo(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}

	return mono
}

// Resample converts between sample rates by linear interpolation. Good
// enough for speech; this is not a music pipeline.
func Resample(src []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(src) == 0 {
		out := make([]int16, len(src))
		copy(out, src)

		return out
	}

	n := len(src) * dstRate / srcRate
	out := make([]int16, n)
	for i := range n {
		pos := float64(i) * float64(srcRate) / float64(dstRate)
		j := int(pos)
		if j >= len(src)-1 {
			out[i] = src[len(src)-1]

			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(src[j])*(1-frac) + float64(src[j+1])*frac)
	}

	return out
}

// PCMToBytes converts samples to little-endian 16-bit PCM bytes.
func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}

	return out
}

// BytesToPCM converts little-endian 16-bit PCM bytes to samples.
func BytesToPCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}

	return out
}

// PCMToBase64 encodes samples as base64 little-endian PCM, the on-wire
// format of the realtime speech API.
func PCMToBase64(pcm []int16) string {
	return base64.StdEncoding.EncodeToString(PCMToBytes(pcm))
}

// SplitFrames chunks samples into frames of the given size. The last frame
// may be short; PCMToOpus pads it.
func SplitFrames(pcm []int16, frameSize int) [][]int16 {
	var frames [][]int16
	for off := 0; off < len(pcm); off += frameSize {
		end := min(off+frameSize, len(pcm))
		frames = append(frames, pcm[off:end])
	}

	return frames
}

// WAV wraps raw mono 16-bit PCM in a minimal RIFF header, for upload APIs
// that want a container.
func WAV(pcm []int16, sampleRate int) []byte {
	data := PCMToBytes(pcm)
	buf := make([]byte, 44+len(data))

	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(data)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(data)))
	copy(buf[44:], data)

	return buf
}
