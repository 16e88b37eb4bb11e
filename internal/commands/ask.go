package commands

import (
	"context"
	"time"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/utils/json/option"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/llm"
)

// AskCommand answers rules questions and general queries with a single
// completion.
type AskCommand struct {
	logger    *zap.Logger
	completer llm.Completer
}

func NewAskCommand(logger *zap.Logger, completer llm.Completer) Command {
	return &AskCommand{logger: logger, completer: completer}
}

func (c *AskCommand) Name() string {
	return "ask"
}

func (c *AskCommand) Description() string {
	return "Ask a rules question or anything else"
}

func (c *AskCommand) Options() []discord.CommandOption {
	return []discord.CommandOption{
		&discord.StringOption{
			OptionName:  "question",
			Description: "What do you want to know?",
			Required:    true,
		},
	}
}

func (c *AskCommand) Execute(ctx context.Context, s *session.Session, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	question := ""
	for _, opt := range data.Options {
		if opt.Name == "question" {
			question = opt.String()
		}
	}
	if question == "" {
		return respondEphemeral(s, e, "Ask me something first.")
	}

	// Defer: completions regularly outlast the three-second interaction
	// window.
	if err := s.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.DeferredMessageInteractionWithSource,
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	system := "You are a tabletop RPG assistant. Answer concisely; rules " +
		"answers cite the rule name."

	answer, err := c.completer.Complete(ctx, question, system, 500)
	if err != nil {
		c.logger.Error("Ask completion failed", zap.Error(err))
		answer = "Sorry, I couldn't get an answer right now."
	}

	_, err = s.FollowUpInteraction(e.AppID, e.Token, api.InteractionResponseData{
		Content: option.NewNullableString(answer),
	})

	return err
}
