package voice_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fumblebot/fumblebot/internal/voice"
	"github.com/fumblebot/fumblebot/pkg/audio"
)

func TestSpeakSerializesConcurrentCalls(t *testing.T) {
	h := newTestHarness(t)

	// Five frames per utterance, with every synthesis and frame write
	// logged in order.
	rec := &callRecorder{}
	h.synth.pcm = make([]int16, 5*audio.ProviderFrameSize)
	h.synth.recorder = rec
	h.gateway.conn.recorder = rec

	startSession(t, h, voice.ModeAssistant)
	defer h.service.Stop(context.Background(), testGuildID, "test")

	sess, ok := h.registry.Get(testGuildID)
	require.True(t, ok)

	var wg sync.WaitGroup
	for _, text := range []string{"first line", "second line"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.playback.Speak(context.Background(), sess, text))
		}()
	}
	wg.Wait()

	events := rec.snapshot()
	require.Len(t, events, 12, "two syntheses and five frames each")

	// Whichever call won the channel, its frames all land before the other
	// call even synthesizes.
	assert.True(t, strings.HasPrefix(events[0], "synth:"))
	assert.True(t, strings.HasPrefix(events[6], "synth:"))
	for _, i := range []int{1, 2, 3, 4, 5, 7, 8, 9, 10, 11} {
		assert.Equal(t, "frame", events[i], "event %d", i)
	}
	assert.ElementsMatch(t, []string{"first line", "second line"},
		[]string{strings.TrimPrefix(events[0], "synth:"), strings.TrimPrefix(events[6], "synth:")})

	// Both spoken lines land in the transcript as the bot's own utterances.
	assert.Eventually(t, func() bool {
		return h.service.Status(testGuildID).Entries == 2
	}, waitFor, tick)
}

func TestAckDroppedWhilePlaybackBusy(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.Voice.AckCue = "Yes?"
	h.synth.pcm = make([]int16, 10*audio.ProviderFrameSize) // ~200ms of paced playback

	startSession(t, h, voice.ModeAssistant)
	defer h.service.Stop(context.Background(), testGuildID, "test")

	sess, ok := h.registry.Get(testGuildID)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, h.playback.Speak(context.Background(), sess, "the answer"))
	}()

	require.Eventually(t, func() bool {
		return h.gateway.conn.Writes() > 0
	}, waitFor, tick, "response playback underway")

	h.playback.SpeakAck(sess)
	<-done
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []string{"the answer"}, h.synth.spoken(),
		"a cue that lost the race is dropped, not played after the answer")
}

func TestAckPlaysOnIdleChannel(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.Voice.AckCue = "Yes?"

	startSession(t, h, voice.ModeAssistant)
	defer h.service.Stop(context.Background(), testGuildID, "test")

	sess, ok := h.registry.Get(testGuildID)
	require.True(t, ok)

	h.playback.SpeakAck(sess)

	assert.Eventually(t, func() bool {
		return len(h.synth.spoken()) == 1 && h.synth.spoken()[0] == "Yes?"
	}, waitFor, tick)

	// The cue is not a transcript entry.
	assert.Equal(t, 0, h.service.Status(testGuildID).Entries)
}
