package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/internal/dice"
	"github.com/fumblebot/fumblebot/internal/llm"
)

// Intent is the resolved action category for an addressed utterance.
type Intent string

const (
	IntentRollDice       Intent = "roll_dice"
	IntentLookupRule     Intent = "lookup_rule"
	IntentQuestion       Intent = "question"
	IntentGreeting       Intent = "greeting"
	IntentGoodbye        Intent = "goodbye"
	IntentSearchMessages Intent = "search_messages"
	IntentPostToChannel  Intent = "post_to_channel"
	IntentOther          Intent = "other"
)

// Reason explains why the resolver decided the bot should (not) respond.
type Reason string

const (
	ReasonWakeWord      Reason = "wake-word"
	ReasonDiceRequest   Reason = "dice-request"
	ReasonRuleQuestion  Reason = "rule-question"
	ReasonValuableInfo  Reason = "valuable-info"
	ReasonSearchRequest Reason = "search-request"
	ReasonPostRequest   Reason = "post-request"
	ReasonNotForBot     Reason = "not-for-bot"
)

// IntentResult is the resolver's verdict on one utterance.
type IntentResult struct {
	ShouldRespond bool
	Reason        Reason
	Intent        Intent

	// Dice is canonical notation for roll_dice.
	Dice string
	// Request is the distilled question for lookup_rule and question.
	Request string
	// SearchQuery drives search_messages.
	SearchQuery string
	// TargetChannel and Content drive post_to_channel.
	TargetChannel string
	Content       string

	// SuggestedResponse is an optional model-drafted reply; the dispatcher
	// may use it directly for conversational intents.
	SuggestedResponse string
}

var (
	goodbyeRe  = regexp.MustCompile(`\b(goodbye|good bye|bye|farewell|go to sleep|stop)\b`)
	greetingRe = regexp.MustCompile(`\b(hi|hello|hey|greetings|good (morning|afternoon|evening))\b`)
)

// Resolver classifies addressed utterances in two stages: deterministic
// pattern matching first, a model call only for the rest. Stage two feeds a
// small window of recent table talk to the model so follow-ups like "roll
// it again" resolve.
type Resolver struct {
	logger    *zap.Logger
	botName   string
	completer llm.Completer
	recent    *lru.Cache[discord.GuildID, []string]
}

func NewResolver(logger *zap.Logger, cfg *config.Config, completer llm.Completer) (*Resolver, error) {
	cache, err := lru.New[discord.GuildID, []string](cfg.Voice.ContextCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create context cache: %w", err)
	}

	return &Resolver{
		logger:    logger.Named("voice_intent"),
		botName:   strings.ToLower(cfg.Voice.BotName),
		completer: completer,
		recent:    cache,
	}, nil
}

// Remember records one finalized utterance for a guild's stage-2 context
// window. Only the last few lines are kept.
func (r *Resolver) Remember(guildID discord.GuildID, speaker, text string) {
	const window = 8

	lines, _ := r.recent.Get(guildID)
	lines = append(lines, fmt.Sprintf("%s: %s", speaker, text))
	if len(lines) > window {
		lines = lines[len(lines)-window:]
	}
	r.recent.Add(guildID, lines)
}

// Resolve runs the full pipeline: fast patterns, then the model. It never
// returns an error; when classification fails it degrades to a substring
// check on the bot's name.
func (r *Resolver) Resolve(ctx context.Context, guildID discord.GuildID, utterance string) IntentResult {
	if res, ok := r.MatchFast(utterance); ok {
		return res
	}

	return r.Classify(ctx, guildID, utterance)
}

// MatchFast handles the high-frequency intents with zero latency and zero
// model cost. Ordering matters: stop phrases outrank greetings because a
// farewell usually contains one.
func (r *Resolver) MatchFast(utterance string) (IntentResult, bool) {
	u := strings.ToLower(utterance)
	addressed := strings.Contains(u, r.botName)

	// Goodbye: either an unambiguous stop phrase, or a farewell that names
	// the bot. A bare "stop" mid-sentence must not end the session.
	if strings.Contains(u, "stop listening") || (addressed && goodbyeRe.MatchString(u)) {
		return IntentResult{
			ShouldRespond: true,
			Reason:        ReasonWakeWord,
			Intent:        IntentGoodbye,
		}, true
	}

	// Dice notation spoken aloud, e.g. "roll 2d6+3". An utterance that opens
	// with bare notation counts too; that is what a command looks like once
	// the wake phrase has been stripped ("fumblebot, d20 please").
	if expr, ok := dice.Extract(u); ok && (addressed || strings.Contains(u, "roll") || leadingDice(u)) {
		return IntentResult{
			ShouldRespond: true,
			Reason:        ReasonDiceRequest,
			Intent:        IntentRollDice,
			Dice:          expr,
		}, true
	}

	// "Roll initiative" and friends imply a d20 check.
	if strings.Contains(u, "initiative") {
		return IntentResult{
			ShouldRespond: true,
			Reason:        ReasonDiceRequest,
			Intent:        IntentRollDice,
			Dice:          "1d20",
		}, true
	}

	if addressed && greetingRe.MatchString(u) && len(strings.Fields(u)) <= 5 {
		return IntentResult{
			ShouldRespond: true,
			Reason:        ReasonWakeWord,
			Intent:        IntentGreeting,
		}, true
	}

	return IntentResult{}, false
}

func leadingDice(u string) bool {
	loc := dice.Pattern.FindStringIndex(u)

	return loc != nil && loc[0] == 0
}

type intentWire struct {
	ShouldRespond     bool   `json:"should_respond"`
	Reason            string `json:"reason"`
	Intent            string `json:"intent"`
	Dice              string `json:"dice,omitempty"`
	Request           string `json:"request,omitempty"`
	SearchQuery       string `json:"search_query,omitempty"`
	TargetChannel     string `json:"target_channel,omitempty"`
	Content           string `json:"content,omitempty"`
	SuggestedResponse string `json:"suggested_response,omitempty"`
}

// Classify asks the model for a structured verdict. Any failure, including
// malformed JSON, falls back to the name-substring heuristic so a provider
// outage never silences the bot completely.
func (r *Resolver) Classify(ctx context.Context, guildID discord.GuildID, utterance string) IntentResult {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	raw, err := r.completer.Complete(ctx, r.userPrompt(guildID, utterance), r.systemPrompt(), 300)
	if err != nil {
		r.logger.Warn("Intent classification failed, using fallback",
			zap.String("guild_id", guildID.String()),
			zap.Error(err))

		return r.fallback(utterance)
	}

	var wire intentWire
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &wire); err != nil {
		r.logger.Warn("Intent classification returned malformed JSON, using fallback",
			zap.String("guild_id", guildID.String()),
			zap.String("raw", raw),
			zap.Error(err))

		return r.fallback(utterance)
	}

	res := IntentResult{
		ShouldRespond:     wire.ShouldRespond,
		Reason:            Reason(wire.Reason),
		Intent:            Intent(wire.Intent),
		Dice:              wire.Dice,
		Request:           wire.Request,
		SearchQuery:       wire.SearchQuery,
		TargetChannel:     wire.TargetChannel,
		Content:           wire.Content,
		SuggestedResponse: wire.SuggestedResponse,
	}

	switch res.Intent {
	case IntentRollDice, IntentLookupRule, IntentQuestion, IntentGreeting,
		IntentGoodbye, IntentSearchMessages, IntentPostToChannel, IntentOther:
	default:
		res.Intent = IntentOther
	}

	if !res.ShouldRespond && res.Reason == "" {
		res.Reason = ReasonNotForBot
	}

	return res
}

// fallback is the stage-3 heuristic: respond only when the utterance
// contains the bot's name. The intent stays other; the full utterance is
// carried as the request so the answer path can still say something useful.
func (r *Resolver) fallback(utterance string) IntentResult {
	if !strings.Contains(strings.ToLower(utterance), r.botName) {
		return IntentResult{Reason: ReasonNotForBot}
	}

	return IntentResult{
		ShouldRespond: true,
		Reason:        ReasonWakeWord,
		Intent:        IntentOther,
		Request:       utterance,
	}
}

func (r *Resolver) systemPrompt() string {
	return fmt.Sprintf(`You classify utterances heard at a tabletop RPG session for a voice assistant named %q.
Decide whether the assistant should respond. Respond ONLY when the utterance explicitly addresses the assistant, asks for a dice roll, asks a rules question, asks to search or post messages, or carries rare high-value information the table clearly wants surfaced. Ordinary roleplay and table talk get no response.

Reply with a single JSON object and nothing else:
{"should_respond": true|false,
 "reason": "wake-word"|"dice-request"|"rule-question"|"valuable-info"|"search-request"|"post-request"|"not-for-bot",
 "intent": "roll_dice"|"lookup_rule"|"question"|"greeting"|"goodbye"|"search_messages"|"post_to_channel"|"other",
 "dice": "<canonical notation like 2d6+3, for roll_dice>",
 "request": "<the distilled question, for lookup_rule/question>",
 "search_query": "<keywords, for search_messages>",
 "target_channel": "<channel name, for post_to_channel>",
 "content": "<text to post, for post_to_channel>",
 "suggested_response": "<one short spoken sentence, optional>"}`, r.botName)
}

func (r *Resolver) userPrompt(guildID discord.GuildID, utterance string) string {
	var b strings.Builder
	if lines, ok := r.recent.Get(guildID); ok && len(lines) > 0 {
		b.WriteString("Recent table talk:\n")
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Utterance: %s", utterance)

	return b.String()
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}
