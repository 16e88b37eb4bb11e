package audio_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fumblebot/fumblebot/pkg/audio"
)

func TestResample(t *testing.T) {
	t.Run("Identity", func(t *testing.T) {
		src := []int16{1, 2, 3, 4}
		out := audio.Resample(src, 24_000, 24_000)
		assert.Equal(t, src, out)
	})

	t.Run("Downsample", func(t *testing.T) {
		src := make([]int16, 960)
		out := audio.Resample(src, 48_000, 24_000)
		assert.Len(t, out, 480)
	})

	t.Run("Upsample", func(t *testing.T) {
		src := make([]int16, 480)
		out := audio.Resample(src, 24_000, 48_000)
		assert.Len(t, out, 960)
	})

	t.Run("Empty", func(t *testing.T) {
		out := audio.Resample(nil, 48_000, 24_000)
		assert.Empty(t, out)
	})
}

func TestPCMByteConversions(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768}
	assert.Equal(t, pcm, audio.BytesToPCM(audio.PCMToBytes(pcm)))
}

func TestPCMToBase64(t *testing.T) {
	pcm := []int16{256}
	b64 := audio.PCMToBase64(pcm)

	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01}, raw)
}

func TestSplitFrames(t *testing.T) {
	pcm := make([]int16, 1100)
	frames := audio.SplitFrames(pcm, 480)

	require.Len(t, frames, 3)
	assert.Len(t, frames[0], 480)
	assert.Len(t, frames[1], 480)
	assert.Len(t, frames[2], 140)
}

func TestWAVHeader(t *testing.T) {
	pcm := make([]int16, 480)
	wav := audio.WAV(pcm, 24_000)

	require.Len(t, wav, 44+960)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "data", string(wav[36:40]))
}
