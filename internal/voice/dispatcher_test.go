package voice_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fumblebot/fumblebot/internal/dice"
	"github.com/fumblebot/fumblebot/internal/voice"
)

func newDispatcher(t *testing.T, gw *fakeGateway, completer *fakeCompleter) *voice.Dispatcher {
	t.Helper()

	roller := dice.NewRollerWithSource(rand.NewSource(7))

	return voice.NewDispatcher(zaptest.NewLogger(t), testConfig(), roller, completer, gw)
}

func request(res voice.IntentResult) voice.DispatchRequest {
	return voice.DispatchRequest{
		GuildID:       testGuildID,
		TextChannelID: testTextChannel,
		Result:        res,
	}
}

func TestDispatchSuppressed(t *testing.T) {
	d := newDispatcher(t, newFakeGateway(), &fakeCompleter{})

	_, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
		ShouldRespond: false,
		Intent:        voice.IntentRollDice,
	}))
	assert.False(t, ok)
}

func TestDispatchRollDice(t *testing.T) {
	d := newDispatcher(t, newFakeGateway(), &fakeCompleter{})

	pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
		ShouldRespond: true,
		Intent:        voice.IntentRollDice,
		Dice:          "2d6+3",
	}))
	require.True(t, ok)
	assert.Contains(t, pair.Display, "2d6+3")
	assert.Contains(t, pair.Display, "🎲")
	assert.Contains(t, pair.Spoken, "You rolled")
	assert.NotContains(t, pair.Spoken, "*", "spoken text carries no markdown")

	t.Run("EmptyNotationDefaultsToD20", func(t *testing.T) {
		pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentRollDice,
		}))
		require.True(t, ok)
		assert.Contains(t, pair.Display, "1d20")
	})

	t.Run("UnrollableNotationApologizes", func(t *testing.T) {
		pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentRollDice,
			Dice:          "9999d6",
		}))
		require.True(t, ok)
		assert.Contains(t, pair.Spoken, "Sorry")
	})
}

func TestDispatchGoodbyeStopsFirst(t *testing.T) {
	d := newDispatcher(t, newFakeGateway(), &fakeCompleter{})

	stopped := false
	req := request(voice.IntentResult{ShouldRespond: true, Intent: voice.IntentGoodbye})
	req.Stop = func(reason string) error {
		stopped = true
		assert.Equal(t, "goodbye", reason)

		return nil
	}

	pair, ok := d.Dispatch(context.Background(), req)
	require.True(t, ok)
	assert.True(t, stopped)
	assert.Contains(t, pair.Spoken, "Goodbye")
}

func TestDispatchSearch(t *testing.T) {
	gw := newFakeGateway()
	gw.history = []voice.FoundMessage{
		{Author: "Alice", Content: "the dragon's name is Vexrath", Timestamp: time.Now()},
	}

	t.Run("CondensesHits", func(t *testing.T) {
		d := newDispatcher(t, gw, &fakeCompleter{reply: "Alice said the dragon is Vexrath."})

		pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentSearchMessages,
			SearchQuery:   "dragon",
		}))
		require.True(t, ok)
		assert.Contains(t, pair.Display, "Vexrath")
	})

	t.Run("NoHits", func(t *testing.T) {
		d := newDispatcher(t, gw, &fakeCompleter{})

		pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentSearchMessages,
			SearchQuery:   "beholder",
		}))
		require.True(t, ok)
		assert.Contains(t, pair.Display, "No messages")
	})

	t.Run("ModelDownFallsBackToRawHits", func(t *testing.T) {
		d := newDispatcher(t, gw, &fakeCompleter{err: errors.New("down")})

		pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentSearchMessages,
			SearchQuery:   "dragon",
		}))
		require.True(t, ok)
		assert.Contains(t, pair.Display, "Vexrath")
	})
}

func TestDispatchPostToChannel(t *testing.T) {
	gw := newFakeGateway()
	gw.channels["session-notes"] = discord.ChannelID(900)

	entries := []voice.TranscriptEntry{
		{SpeakerName: "Alice", Text: "we slew the dragon"},
		{SpeakerName: "Bob", Text: "and took its hoard"},
	}
	tail := func(n int) []voice.TranscriptEntry { return entries }

	t.Run("PostsContent", func(t *testing.T) {
		d := newDispatcher(t, gw, &fakeCompleter{})

		req := request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentPostToChannel,
			TargetChannel: "session-notes",
			Content:       "loot list: 5000gp",
		})
		req.Tail = tail

		pair, ok := d.Dispatch(context.Background(), req)
		require.True(t, ok)
		assert.Contains(t, pair.Display, "session-notes")
		assert.True(t, gw.containsMessage("loot list: 5000gp"))
	})

	t.Run("SummaryRequestGeneratesRecap", func(t *testing.T) {
		d := newDispatcher(t, gw, &fakeCompleter{reply: "The party slew the dragon."})

		req := request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentPostToChannel,
			TargetChannel: "session-notes",
			Content:       "a summary of the session",
		})
		req.Tail = tail

		_, ok := d.Dispatch(context.Background(), req)
		require.True(t, ok)
		assert.True(t, gw.containsMessage("The party slew the dragon."))
	})

	t.Run("SummaryFallsBackToExcerptOnModelFailure", func(t *testing.T) {
		d := newDispatcher(t, gw, &fakeCompleter{err: errors.New("down")})

		req := request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentPostToChannel,
			TargetChannel: "session-notes",
			Content:       "recap please",
		})
		req.Tail = tail

		_, ok := d.Dispatch(context.Background(), req)
		require.True(t, ok)
		assert.True(t, gw.containsMessage("we slew the dragon"))
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		d := newDispatcher(t, gw, &fakeCompleter{})

		pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentPostToChannel,
			TargetChannel: "nonexistent",
			Content:       "hello",
		}))
		require.True(t, ok)
		assert.Contains(t, pair.Display, "couldn't find")
	})
}

func TestDispatchAnswer(t *testing.T) {
	t.Run("AnswersQuestion", func(t *testing.T) {
		d := newDispatcher(t, newFakeGateway(), &fakeCompleter{reply: "Grappling uses an Athletics check."})

		pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentLookupRule,
			Request:       "how does grappling work",
		}))
		require.True(t, ok)
		assert.Contains(t, pair.Display, "Athletics")
	})

	t.Run("ApologizesOnFailure", func(t *testing.T) {
		d := newDispatcher(t, newFakeGateway(), &fakeCompleter{err: errors.New("down")})

		pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentQuestion,
			Request:       "what is a mimic",
		}))
		require.True(t, ok)
		assert.Contains(t, pair.Spoken, "Sorry")
	})

	t.Run("NothingToAnswerSuppressesResponse", func(t *testing.T) {
		d := newDispatcher(t, newFakeGateway(), &fakeCompleter{})

		_, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
			ShouldRespond: true,
			Intent:        voice.IntentOther,
		}))
		assert.False(t, ok)
	})
}

func TestDispatchGreeting(t *testing.T) {
	d := newDispatcher(t, newFakeGateway(), &fakeCompleter{})

	pair, ok := d.Dispatch(context.Background(), request(voice.IntentResult{
		ShouldRespond: true,
		Intent:        voice.IntentGreeting,
	}))
	require.True(t, ok)
	assert.NotEmpty(t, pair.Display)
	assert.NotEmpty(t, pair.Spoken)
}
