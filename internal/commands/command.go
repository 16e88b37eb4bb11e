// Package commands provides the slash command surface and its registration
// infrastructure.
package commands

import (
	"context"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/utils/json/option"
)

// Command defines the interface for slash commands.
type Command interface {
	Name() string
	Description() string
	Options() []discord.CommandOption
	Execute(ctx context.Context, s *session.Session, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error
}

// respond sends a plain interaction response.
func respond(s *session.Session, e *gateway.InteractionCreateEvent, content string) error {
	return s.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.MessageInteractionWithSource,
		Data: &api.InteractionResponseData{
			Content: option.NewNullableString(content),
		},
	})
}

// respondEphemeral sends an interaction response only the invoker can see,
// used for errors and usage hints.
func respondEphemeral(s *session.Session, e *gateway.InteractionCreateEvent, content string) error {
	return s.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.MessageInteractionWithSource,
		Data: &api.InteractionResponseData{
			Content: option.NewNullableString(content),
			Flags:   discord.EphemeralMessage,
		},
	})
}
