package voice_test

import (
	"sync"
	"testing"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fumblebot/fumblebot/internal/voice"
)

func newRegistry(t *testing.T) *voice.Registry {
	t.Helper()

	return voice.NewRegistry(zaptest.NewLogger(t), testConfig())
}

func startParams(guildID discord.GuildID) voice.StartParams {
	return voice.StartParams{
		GuildID:   guildID,
		ChannelID: testVoiceChannel,
		Mode:      voice.ModeTranscribe,
		StartedBy: testUserID,
	}
}

func TestRegistryStart(t *testing.T) {
	r := newRegistry(t)

	sess, err := r.Start(startParams(testGuildID))
	require.NoError(t, err)
	assert.Equal(t, testGuildID, sess.GuildID)
	assert.Equal(t, voice.ModeTranscribe, sess.Mode())
	assert.Equal(t, 1, r.Len())

	t.Run("SecondSessionSameGuildRejected", func(t *testing.T) {
		_, err := r.Start(startParams(testGuildID))
		assert.ErrorIs(t, err, voice.ErrSessionAlreadyActive)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("DefaultModeIsTranscribe", func(t *testing.T) {
		params := startParams(discord.GuildID(101))
		params.Mode = ""

		sess, err := r.Start(params)
		require.NoError(t, err)
		assert.Equal(t, voice.ModeTranscribe, sess.Mode())
	})
}

func TestRegistryConcurrencyCap(t *testing.T) {
	r := newRegistry(t)

	for i := range 5 {
		_, err := r.Start(startParams(discord.GuildID(1000 + i)))
		require.NoError(t, err)
	}

	_, err := r.Start(startParams(discord.GuildID(2000)))
	assert.ErrorIs(t, err, voice.ErrTooManySessions)

	// Stopping one frees a slot.
	_, err = r.Stop(discord.GuildID(1000))
	require.NoError(t, err)

	_, err = r.Start(startParams(discord.GuildID(2000)))
	assert.NoError(t, err)
}

func TestRegistryStop(t *testing.T) {
	r := newRegistry(t)

	started, err := r.Start(startParams(testGuildID))
	require.NoError(t, err)

	stopped, err := r.Stop(testGuildID)
	require.NoError(t, err)
	assert.Same(t, started, stopped, "Stop returns the removed session for finalization")
	assert.Equal(t, 0, r.Len())

	_, err = r.Stop(testGuildID)
	assert.ErrorIs(t, err, voice.ErrSessionNotActive)
}

func TestRegistryPost(t *testing.T) {
	t.Run("TasksRunInOrder", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Start(startParams(testGuildID))
		require.NoError(t, err)

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		wg.Add(3)
		for i := range 3 {
			ok := r.Post(testGuildID, func(*voice.Session) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				wg.Done()
			})
			require.True(t, ok)
		}
		wg.Wait()

		assert.Equal(t, []int{0, 1, 2}, order)
	})

	t.Run("DroppedAfterStop", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Start(startParams(testGuildID))
		require.NoError(t, err)
		_, err = r.Stop(testGuildID)
		require.NoError(t, err)

		ran := false
		ok := r.Post(testGuildID, func(*voice.Session) { ran = true })
		assert.False(t, ok)

		time.Sleep(50 * time.Millisecond)
		assert.False(t, ran, "callbacks from a stopped session must never run")
	})
}

func TestRegistryEnableAssistantMode(t *testing.T) {
	r := newRegistry(t)

	assert.ErrorIs(t, r.EnableAssistantMode(testGuildID), voice.ErrSessionNotActive)

	sess, err := r.Start(startParams(testGuildID))
	require.NoError(t, err)

	require.NoError(t, r.EnableAssistantMode(testGuildID))
	assert.Equal(t, voice.ModeAssistant, sess.Mode())

	// Idempotent; never downgrades.
	require.NoError(t, r.EnableAssistantMode(testGuildID))
	assert.Equal(t, voice.ModeAssistant, sess.Mode())
}
