package voice

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/state"
	"github.com/diamondburned/arikawa/v3/utils/json/option"
	"github.com/diamondburned/arikawa/v3/utils/sendpart"
	"github.com/diamondburned/arikawa/v3/voice"
	"github.com/diamondburned/arikawa/v3/voice/voicegateway"
	"go.uber.org/zap"
)

// discordGateway implements Gateway on top of the arikawa session and
// state. It owns the live voice sessions keyed by guild.
type discordGateway struct {
	logger  *zap.Logger
	session *session.Session
	state   *state.State

	mu    sync.Mutex
	voice map[discord.GuildID]*voiceConn
}

// NewGateway wraps the Discord session in the orchestrator's Gateway
// capability.
func NewGateway(logger *zap.Logger, ses *session.Session, st *state.State) Gateway {
	return &discordGateway{
		logger:  logger.Named("discord_gateway"),
		session: ses,
		state:   st,
		voice:   make(map[discord.GuildID]*voiceConn),
	}
}

func (g *discordGateway) JoinVoice(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID) (Connection, error) {
	g.mu.Lock()
	if conn, ok := g.voice[guildID]; ok {
		g.mu.Unlock()

		return conn, nil
	}
	g.mu.Unlock()

	vs, err := voice.NewSession(g.session)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice session: %w", err)
	}

	if err := vs.JoinChannel(ctx, channelID, false, false); err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	if err := vs.Speaking(ctx, voicegateway.Microphone); err != nil {
		g.logger.Warn("Failed to send speaking state", zap.Error(err))
	}

	// An initial silence frame opens the UDP path so we start receiving.
	if _, err := vs.Write([]byte{0xF8, 0xFF, 0xFE}); err != nil {
		g.logger.Warn("Failed to send initial silence frame", zap.Error(err))
	}

	conn := &voiceConn{vs: vs}

	g.mu.Lock()
	g.voice[guildID] = conn
	g.mu.Unlock()

	g.logger.Info("Joined voice channel",
		zap.String("guild_id", guildID.String()),
		zap.String("channel_id", channelID.String()))

	return conn, nil
}

func (g *discordGateway) LeaveVoice(ctx context.Context, guildID discord.GuildID) error {
	g.mu.Lock()
	conn, ok := g.voice[guildID]
	delete(g.voice, guildID)
	g.mu.Unlock()

	if !ok {
		return nil
	}

	return conn.Close(ctx)
}

func (g *discordGateway) SendMessage(channelID discord.ChannelID, content string) (discord.MessageID, error) {
	msg, err := g.session.SendMessage(channelID, content)
	if err != nil {
		return 0, err
	}

	return msg.ID, nil
}

func (g *discordGateway) EditMessage(channelID discord.ChannelID, messageID discord.MessageID, content string) error {
	_, err := g.session.EditMessageComplex(channelID, messageID, api.EditMessageData{
		Content: option.NewNullableString(content),
	})

	return err
}

func (g *discordGateway) SendFile(channelID discord.ChannelID, content, filename string, data []byte) error {
	_, err := g.session.SendMessageComplex(channelID, api.SendMessageData{
		Content: content,
		Files: []sendpart.File{
			{Name: filename, Reader: bytes.NewReader(data)},
		},
	})

	return err
}

func (g *discordGateway) HumanMemberCount(guildID discord.GuildID, channelID discord.ChannelID) (int, error) {
	states, err := g.state.VoiceStates(guildID)
	if err != nil {
		return 0, fmt.Errorf("failed to read voice states: %w", err)
	}

	count := 0
	for _, vs := range states {
		if vs.ChannelID != channelID {
			continue
		}

		// An unknown member counts as human; pausing a live game on a
		// cache miss is the worse failure mode.
		member, err := g.state.Member(guildID, vs.UserID)
		if err == nil && member.User.Bot {
			continue
		}
		count++
	}

	return count, nil
}

func (g *discordGateway) ResolveChannelByName(guildID discord.GuildID, name string) (discord.ChannelID, string, bool) {
	channels, err := g.state.Channels(guildID)
	if err != nil {
		g.logger.Warn("Failed to list channels", zap.Error(err))

		return 0, "", false
	}

	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))

	for _, ch := range channels {
		if ch.Type == discord.GuildText && strings.ToLower(ch.Name) == name {
			return ch.ID, ch.Name, true
		}
	}
	for _, ch := range channels {
		if ch.Type == discord.GuildText && strings.Contains(strings.ToLower(ch.Name), name) {
			return ch.ID, ch.Name, true
		}
	}

	return 0, "", false
}

func (g *discordGateway) SearchMessages(channelID discord.ChannelID, query string, limit int) ([]FoundMessage, error) {
	msgs, err := g.session.Messages(channelID, 100)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel history: %w", err)
	}

	query = strings.ToLower(query)
	var hits []FoundMessage
	for _, m := range msgs {
		if !strings.Contains(strings.ToLower(m.Content), query) {
			continue
		}
		hits = append(hits, FoundMessage{
			Author:    m.Author.Username,
			Content:   m.Content,
			Timestamp: m.Timestamp.Time(),
		})
		if len(hits) >= limit {
			break
		}
	}

	return hits, nil
}

func (g *discordGateway) MemberDisplayName(guildID discord.GuildID, userID discord.UserID) string {
	member, err := g.state.Member(guildID, userID)
	if err != nil {
		// Audio sources that are not yet mapped to a member keep a stable
		// placeholder so transcript attribution still distinguishes them.
		return fmt.Sprintf("Speaker %d", uint64(userID)%10_000)
	}

	if member.Nick != "" {
		return member.Nick
	}
	if member.User.DisplayName != "" {
		return member.User.DisplayName
	}

	return member.User.Username
}

func (g *discordGateway) SetPresence(ctx context.Context, status string) error {
	activities := []discord.Activity{}
	if status != "" {
		activities = append(activities, discord.Activity{
			Name: status,
			Type: discord.GameActivity,
		})
	}

	return g.session.Gateway().Send(ctx, &gateway.UpdatePresenceCommand{
		Status:     discord.OnlineStatus,
		Activities: activities,
	})
}

// voiceConn adapts one arikawa voice session to the Connection interface.
type voiceConn struct {
	vs *voice.Session
}

func (c *voiceConn) WriteOpus(frame []byte) error {
	_, err := c.vs.Write(frame)

	return err
}

func (c *voiceConn) ReadPacket() (*AudioPacket, error) {
	p, err := c.vs.ReadPacket()
	if err != nil {
		return nil, err
	}

	return &AudioPacket{
		// TODO: map SSRC to the real user ID from speaking events; until
		// then the SSRC doubles as a stable per-speaker key.
		SSRC:   p.SSRC(),
		UserID: discord.UserID(p.SSRC()),
		Opus:   p.Opus,
	}, nil
}

func (c *voiceConn) Close(ctx context.Context) error {
	return c.vs.Leave(ctx)
}
