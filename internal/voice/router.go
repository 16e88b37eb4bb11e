package voice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap"
)

// handleTranscription is the entry point for transcription events. It runs
// on the provider's pump goroutine and hands the event to the session loop;
// events for a session that stopped in the meantime are dropped there.
func (s *Service) handleTranscription(guildID discord.GuildID, ev TranscriptionEvent) {
	s.registry.Post(guildID, func(sess *Session) {
		s.routeEvent(sess, ev)
	})
}

// routeEvent runs on the session loop: record the utterance, then decide
// whether it addresses the bot and, in assistant mode, act on it.
func (s *Service) routeEvent(sess *Session, ev TranscriptionEvent) {
	if !ev.Final {
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	speakerID := discord.UserID(ev.SpeakerID)
	name := s.gateway.MemberDisplayName(sess.GuildID, speakerID)

	appendEntry(sess, s.subtitles, TranscriptEntry{
		SpeakerID:   speakerID,
		SpeakerName: name,
		Text:        text,
	})
	s.notifier.Emit(Event{Type: EventTranscription, GuildID: sess.GuildID, Detail: text})
	s.resolver.Remember(sess.GuildID, name, text)

	command, ok := s.wakeCommand(text)
	if !ok {
		return
	}

	appendEntry(sess, s.subtitles, TranscriptEntry{
		SpeakerID:   speakerID,
		SpeakerName: name,
		Text:        text,
		IsCommand:   true,
	})
	s.notifier.Emit(Event{Type: EventCommand, GuildID: sess.GuildID, Detail: text})

	if sess.Mode() != ModeAssistant {
		return
	}

	// Resolution and dispatch involve network calls; get off the session
	// loop so transcription keeps flowing while we think.
	guildID, textChannelID := sess.GuildID, sess.TextChannelID
	go s.handleCommand(guildID, textChannelID, command)
}

// wakeCommand reports whether an utterance is directed at the bot and, when
// it is, returns the command text. A wake phrase anchors to the start of
// the utterance ("hey fumblebot roll 2d6", "fumblebot, status") and the
// remainder after it is the command. A mid-sentence mention of the bot's
// name is just table talk. Two exceptions are accepted anywhere so a
// session can always be ended by voice: "stop listening", and a farewell
// that names the bot.
func (s *Service) wakeCommand(text string) (string, bool) {
	u := strings.ToLower(text)
	bot := strings.ToLower(s.cfg.BotName)

	if strings.Contains(u, "stop listening") {
		return text, true
	}

	const separators = " \t,.!?:;"
	for _, wake := range []string{"hey " + bot, "okay " + bot, "ok " + bot, bot} {
		if !strings.HasPrefix(u, wake) {
			continue
		}

		rest := text[len(wake):]
		if rest != "" && !strings.ContainsAny(rest[:1], separators) {
			// The name is a prefix of a longer word, e.g. "fumblebots".
			continue
		}

		rest = strings.TrimLeft(rest, separators)
		if rest == "" {
			// A bare wake phrase reads as a greeting.
			return text, true
		}

		return rest, true
	}

	if strings.Contains(u, bot) && goodbyeRe.MatchString(u) {
		return text, true
	}

	return "", false
}

// handleCommand resolves and dispatches one addressed utterance. Runs off
// the session loop; transcript writes go back through the registry.
func (s *Service) handleCommand(guildID discord.GuildID, textChannelID discord.ChannelID, utterance string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, fast := s.resolver.MatchFast(utterance)
	if !fast {
		// Stage two is slow; the cue tells the table the request landed.
		if sess, ok := s.registry.Get(guildID); ok {
			s.playback.SpeakAck(sess)
		}
		res = s.resolver.Classify(ctx, guildID, utterance)
	}

	if !res.ShouldRespond {
		s.logger.Debug("Utterance not for the bot",
			zap.String("guild_id", guildID.String()),
			zap.String("reason", string(res.Reason)))

		return
	}

	pair, ok := s.dispatcher.Dispatch(ctx, DispatchRequest{
		GuildID:       guildID,
		TextChannelID: textChannelID,
		Result:        res,
		Tail: func(n int) []TranscriptEntry {
			if sess, ok := s.registry.Get(guildID); ok {
				return sess.transcript.Tail(n)
			}

			return nil
		},
		Stop: func(reason string) error {
			return s.Stop(ctx, guildID, reason)
		},
	})
	if !ok {
		return
	}

	s.respond(ctx, guildID, textChannelID, pair)
}

// respond delivers one response pair: markdown to the text channel, speech
// into the voice channel. After a goodbye the session is already gone, so
// only the text half can land.
func (s *Service) respond(ctx context.Context, guildID discord.GuildID, textChannelID discord.ChannelID, pair ResponsePair) {
	if textChannelID != 0 && pair.Display != "" {
		if _, err := s.gateway.SendMessage(textChannelID, pair.Display); err != nil {
			s.logger.Warn("Failed to post response",
				zap.String("guild_id", guildID.String()),
				zap.Error(err))
		}
	}

	s.notifier.Emit(Event{Type: EventResponse, GuildID: guildID, Detail: pair.Display})

	sess, ok := s.registry.Get(guildID)
	if !ok || pair.Spoken == "" {
		return
	}

	if sess.synthesizer == nil {
		// Text-only session: record what would have been spoken so the
		// transcript still carries the bot's side of the exchange.
		s.registry.Post(guildID, func(sess *Session) {
			appendEntry(sess, s.subtitles, TranscriptEntry{
				SpeakerName: s.cfg.BotName,
				Text:        pair.Spoken,
				FromBot:     true,
			})
		})

		return
	}

	if err := s.playback.Speak(ctx, sess, pair.Spoken); err != nil {
		s.logger.Warn("Playback failed",
			zap.String("guild_id", guildID.String()),
			zap.Error(err))
		s.notifier.Emit(Event{Type: EventError, GuildID: guildID, Detail: fmt.Sprintf("playback: %v", err)})
	}
}
