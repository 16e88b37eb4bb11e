package voice

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/internal/dice"
	"github.com/fumblebot/fumblebot/internal/llm"
)

// ResponsePair is one response in both renditions: markdown for the text
// channel and a terse plain-text variant for speech synthesis.
type ResponsePair struct {
	Display string
	Spoken  string
}

// DispatchRequest is everything the dispatcher needs to act on a resolved
// intent without touching session internals directly.
type DispatchRequest struct {
	GuildID       discord.GuildID
	TextChannelID discord.ChannelID
	Result        IntentResult

	// Tail returns the most recent n transcript entries (all when n <= 0).
	Tail func(n int) []TranscriptEntry

	// Stop ends the session; the goodbye intent calls it before answering.
	Stop func(reason string) error
}

// Dispatcher executes resolved intents. Failures degrade to a spoken
// apology instead of silence, so the table always hears that the request
// landed.
type Dispatcher struct {
	logger    *zap.Logger
	cfg       *config.VoiceConfig
	roller    *dice.Roller
	completer llm.Completer
	gateway   Gateway
}

func NewDispatcher(logger *zap.Logger, cfg *config.Config, roller *dice.Roller, completer llm.Completer, gateway Gateway) *Dispatcher {
	return &Dispatcher{
		logger:    logger.Named("voice_dispatcher"),
		cfg:       &cfg.Voice,
		roller:    roller,
		completer: completer,
		gateway:   gateway,
	}
}

// Dispatch executes the intent and returns the response pair. The second
// return is false when no response should be produced at all.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (ResponsePair, bool) {
	res := req.Result
	if !res.ShouldRespond {
		return ResponsePair{}, false
	}

	d.logger.Info("Dispatching intent",
		zap.String("guild_id", req.GuildID.String()),
		zap.String("intent", string(res.Intent)),
		zap.String("reason", string(res.Reason)))

	switch res.Intent {
	case IntentRollDice:
		return d.roll(res), true
	case IntentGoodbye:
		return d.goodbye(req), true
	case IntentGreeting:
		return d.greeting(res), true
	case IntentSearchMessages:
		return d.search(ctx, req), true
	case IntentPostToChannel:
		return d.post(ctx, req), true
	case IntentLookupRule, IntentQuestion, IntentOther:
		return d.answer(ctx, req)
	default:
		return ResponsePair{}, false
	}
}

func (d *Dispatcher) roll(res IntentResult) ResponsePair {
	expr := res.Dice
	if expr == "" {
		expr = "1d20"
	}

	result, err := d.roller.Roll(expr)
	if err != nil {
		d.logger.Warn("Dice roll failed", zap.String("expr", expr), zap.Error(err))

		return ResponsePair{
			Display: fmt.Sprintf("I couldn't roll `%s`, that notation doesn't parse.", expr),
			Spoken:  "Sorry, I didn't catch that dice expression.",
		}
	}

	return ResponsePair{Display: result.Display(), Spoken: result.Spoken()}
}

func (d *Dispatcher) goodbye(req DispatchRequest) ResponsePair {
	if req.Stop != nil {
		if err := req.Stop("goodbye"); err != nil {
			d.logger.Error("Failed to stop session on goodbye",
				zap.String("guild_id", req.GuildID.String()),
				zap.Error(err))
		}
	}

	return ResponsePair{
		Display: "👋 Session ended. Transcript incoming.",
		Spoken:  "Goodbye, see you next session.",
	}
}

func (d *Dispatcher) greeting(res IntentResult) ResponsePair {
	if res.SuggestedResponse != "" {
		return ResponsePair{
			Display: res.SuggestedResponse,
			Spoken:  stripMarkdown(res.SuggestedResponse),
		}
	}

	return ResponsePair{
		Display: "Hey! I'm listening. Ask me to roll dice or look something up.",
		Spoken:  "Hey! I'm listening.",
	}
}

func (d *Dispatcher) search(ctx context.Context, req DispatchRequest) ResponsePair {
	query := strings.TrimSpace(req.Result.SearchQuery)
	if query == "" || req.TextChannelID == 0 {
		return ResponsePair{
			Display: "I need a search term and a bound text channel for that.",
			Spoken:  "I don't have anything to search with.",
		}
	}

	hits, err := d.gateway.SearchMessages(req.TextChannelID, query, 5)
	if err != nil {
		d.logger.Warn("Message search failed", zap.String("query", query), zap.Error(err))

		return d.apology()
	}
	if len(hits) == 0 {
		return ResponsePair{
			Display: fmt.Sprintf("No messages matching **%s** in recent history.", query),
			Spoken:  fmt.Sprintf("I found nothing about %s.", query),
		}
	}

	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s (%s): %s\n", h.Author, h.Timestamp.Format("Jan 2 15:04"), h.Content)
	}

	system := "Condense these chat messages into a two-sentence answer to the " +
		"search request. Mention who said what if it matters."
	condensed, err := d.completer.Complete(ctx, fmt.Sprintf("Search request: %s\n\nMessages:\n%s", query, b.String()), system, 200)
	if err != nil {
		// Raw hits are still better than an apology.
		display := fmt.Sprintf("Found %d messages about **%s**:\n%s", len(hits), query, b.String())

		return ResponsePair{
			Display: display,
			Spoken:  fmt.Sprintf("I found %d messages about %s, details in the channel.", len(hits), query),
		}
	}

	return ResponsePair{Display: condensed, Spoken: stripMarkdown(condensed)}
}

func (d *Dispatcher) post(ctx context.Context, req DispatchRequest) ResponsePair {
	name := strings.TrimSpace(req.Result.TargetChannel)
	if name == "" {
		return ResponsePair{
			Display: "I couldn't tell which channel to post to.",
			Spoken:  "Which channel should that go to?",
		}
	}

	channelID, channelName, ok := d.gateway.ResolveChannelByName(req.GuildID, name)
	if !ok {
		return ResponsePair{
			Display: fmt.Sprintf("I couldn't find a channel named **%s**.", name),
			Spoken:  fmt.Sprintf("I couldn't find a channel called %s.", name),
		}
	}

	content := strings.TrimSpace(req.Result.Content)
	if wantsSummary(content) {
		content = d.sessionRecap(ctx, req)
	}
	if content == "" {
		return ResponsePair{
			Display: "There's nothing to post yet.",
			Spoken:  "There's nothing to post yet.",
		}
	}

	if _, err := d.gateway.SendMessage(channelID, content); err != nil {
		d.logger.Warn("Channel post failed",
			zap.String("channel", channelName),
			zap.Error(err))

		return d.apology()
	}

	return ResponsePair{
		Display: fmt.Sprintf("Posted to **#%s**.", channelName),
		Spoken:  fmt.Sprintf("Posted to %s.", channelName),
	}
}

// answer handles rules lookups and free-form questions with a single
// concise completion.
func (d *Dispatcher) answer(ctx context.Context, req DispatchRequest) (ResponsePair, bool) {
	request := strings.TrimSpace(req.Result.Request)
	if request == "" {
		if req.Result.SuggestedResponse != "" {
			return ResponsePair{
				Display: req.Result.SuggestedResponse,
				Spoken:  stripMarkdown(req.Result.SuggestedResponse),
			}, true
		}

		return ResponsePair{}, false
	}

	system := "You are a tabletop RPG assistant answering at the table over voice. " +
		"Answer in at most three short sentences. Rules answers cite the rule name, " +
		"not page numbers."

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	answer, err := d.completer.Complete(ctx, request, system, 250)
	if err != nil {
		d.logger.Warn("Answer completion failed", zap.Error(err))

		return d.apology(), true
	}

	return ResponsePair{Display: answer, Spoken: stripMarkdown(answer)}, true
}

// sessionRecap builds a summary of the session so far, for posting into a
// channel mid-session. Falls back to a raw excerpt when the model is down.
func (d *Dispatcher) sessionRecap(ctx context.Context, req DispatchRequest) string {
	if req.Tail == nil {
		return ""
	}

	entries := req.Tail(0)
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.SpeakerName, e.Text)
	}

	system := "Summarize this tabletop session transcript in a short paragraph " +
		"suitable for posting to the group's channel."
	summary, err := d.completer.Complete(ctx, b.String(), system, 300)
	if err == nil {
		return summary
	}

	d.logger.Warn("Recap summary failed, posting raw excerpt", zap.Error(err))

	excerpt := req.Tail(10)
	b.Reset()
	b.WriteString("Session so far:\n")
	for _, e := range excerpt {
		fmt.Fprintf(&b, "> **%s:** %s\n", e.SpeakerName, e.Text)
	}

	return b.String()
}

func (d *Dispatcher) apology() ResponsePair {
	return ResponsePair{
		Display: "Sorry, something went wrong with that request.",
		Spoken:  "Sorry, something went wrong with that.",
	}
}

func wantsSummary(content string) bool {
	c := strings.ToLower(content)

	return c == "" || strings.Contains(c, "summary") || strings.Contains(c, "recap")
}

var markdownRe = regexp.MustCompile("[*_`#>]+")

// stripMarkdown flattens markdown for speech synthesis.
func stripMarkdown(s string) string {
	return strings.TrimSpace(markdownRe.ReplaceAllString(s, ""))
}
