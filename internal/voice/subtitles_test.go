package voice_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fumblebot/fumblebot/internal/voice"
)

func newRenderer(t *testing.T, gw *fakeGateway) *voice.SubtitleRenderer {
	t.Helper()

	return voice.NewSubtitleRenderer(zaptest.NewLogger(t), testConfig(), gw)
}

func TestSubtitlesCreateThenEdit(t *testing.T) {
	gw := newFakeGateway()
	r := newRenderer(t, gw)
	v := r.NewView(testTextChannel)
	defer r.Close(v)

	r.Append(v, "Alice", "we enter the crypt")

	require.Eventually(t, func() bool {
		return len(gw.sentMessages()) == 1
	}, time.Second, 5*time.Millisecond, "first render creates the message")
	assert.Contains(t, gw.sentMessages()[0], "**Alice:** we enter the crypt")

	r.Append(v, "Bob", "I light a torch")

	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()

		return len(gw.edits) == 1
	}, time.Second, 5*time.Millisecond, "later renders edit in place")
	assert.Len(t, gw.sentMessages(), 1)
}

func TestSubtitlesDebounceCoalescesBurst(t *testing.T) {
	gw := newFakeGateway()
	r := newRenderer(t, gw)
	v := r.NewView(testTextChannel)
	defer r.Close(v)

	for i := range 10 {
		r.Append(v, "Alice", fmt.Sprintf("line %d", i))
	}

	require.Eventually(t, func() bool {
		return len(gw.sentMessages()) >= 1
	}, time.Second, 5*time.Millisecond)

	// A burst never creates more than one message; updates edit in place.
	assert.Len(t, gw.sentMessages(), 1)
}

func TestSubtitlesRollingWindow(t *testing.T) {
	gw := newFakeGateway()
	r := newRenderer(t, gw)
	v := r.NewView(testTextChannel)
	defer r.Close(v)

	// Capacity is 8; the first two lines must scroll off.
	for i := range 10 {
		r.Append(v, "Alice", fmt.Sprintf("line %d", i))
	}

	latest := func() string {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		if len(gw.edits) > 0 {
			return gw.edits[len(gw.edits)-1]
		}
		if len(gw.messages) > 0 {
			return gw.messages[len(gw.messages)-1]
		}

		return ""
	}

	require.Eventually(t, func() bool {
		return strings.Contains(latest(), "line 9")
	}, time.Second, 5*time.Millisecond)

	content := latest()
	assert.NotContains(t, content, "line 0")
	assert.NotContains(t, content, "line 1")
	assert.Contains(t, content, "line 2")
	assert.Contains(t, content, "line 9")
}

func TestSubtitlesRecreateAfterEditFailure(t *testing.T) {
	gw := newFakeGateway()
	r := newRenderer(t, gw)
	v := r.NewView(testTextChannel)
	defer r.Close(v)

	r.Append(v, "Alice", "first")
	require.Eventually(t, func() bool {
		return len(gw.sentMessages()) == 1
	}, time.Second, 5*time.Millisecond)

	// Simulate the message being deleted out from under us.
	gw.mu.Lock()
	gw.editErr = errors.New("unknown message")
	gw.mu.Unlock()

	r.Append(v, "Alice", "second")
	time.Sleep(100 * time.Millisecond)

	gw.mu.Lock()
	gw.editErr = nil
	gw.mu.Unlock()

	r.Append(v, "Alice", "third")

	require.Eventually(t, func() bool {
		return len(gw.sentMessages()) == 2
	}, time.Second, 5*time.Millisecond, "a fresh message replaces the lost one")
	assert.Contains(t, gw.sentMessages()[1], "third")
}

func TestSubtitlesCloseFlushesPendingRender(t *testing.T) {
	gw := newFakeGateway()
	cfg := testConfig()
	cfg.Voice.SubtitleDebounceMs = 10_000 // debounce far beyond test duration
	r := voice.NewSubtitleRenderer(zaptest.NewLogger(t), cfg, gw)
	v := r.NewView(testTextChannel)

	r.Append(v, "Alice", "parting words")
	r.Close(v)

	assert.Len(t, gw.sentMessages(), 1, "Close renders what the debouncer was holding")
}
