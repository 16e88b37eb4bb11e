package voice

import (
	"context"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"go.uber.org/zap"
)

// BindGateway subscribes the service to voice-state updates so sessions
// pause while their channel is empty of humans and resume on return.
func (s *Service) BindGateway(ses *session.Session) {
	ses.AddHandler(func(e *gateway.VoiceStateUpdateEvent) {
		s.HandleOccupancyChange(e.GuildID)
	})
}

// HandleOccupancyChange recounts the session channel for a guild after any
// voice-state event there. Guilds without a session are discarded before
// any counting happens, which covers the overwhelmingly common case.
func (s *Service) HandleOccupancyChange(guildID discord.GuildID) {
	sess, ok := s.registry.Get(guildID)
	if !ok {
		return
	}

	count, err := s.gateway.HumanMemberCount(guildID, sess.ChannelID)
	if err != nil {
		s.logger.Warn("Failed to count channel occupancy",
			zap.String("guild_id", guildID.String()),
			zap.Error(err))

		return
	}

	s.registry.Post(guildID, func(sess *Session) {
		s.reconcileOccupancy(sess, count)
	})
}

// reconcileOccupancy pauses or resumes the session to match the human
// occupancy of its channel. Runs on the session loop; repeated events in
// the same state are no-ops.
func (s *Service) reconcileOccupancy(sess *Session, humans int) {
	switch {
	case humans == 0 && !sess.Paused():
		s.stopStream(sess)
		sess.setPaused(true)

		s.logger.Info("Channel empty, pausing transcription",
			zap.String("guild_id", sess.GuildID.String()))
		s.notifier.Emit(Event{Type: EventPaused, GuildID: sess.GuildID})

	case humans > 0 && sess.Paused():
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		// The provider stream was torn down on pause; the voice connection
		// itself stays up. Rejoin only if it dropped in the meantime.
		if sess.connection() == nil {
			conn, err := s.gateway.JoinVoice(ctx, sess.GuildID, sess.ChannelID)
			if err != nil {
				s.logger.Error("Failed to rejoin voice channel on resume",
					zap.String("guild_id", sess.GuildID.String()),
					zap.Error(err))

				return
			}
			sess.setConnection(conn)
		}

		if err := s.startStream(sess); err != nil {
			s.logger.Error("Failed to restart transcription on resume",
				zap.String("guild_id", sess.GuildID.String()),
				zap.Error(err))
			s.notifier.Emit(Event{Type: EventError, GuildID: sess.GuildID, Detail: "resume failed"})

			return
		}
		sess.setPaused(false)

		s.logger.Info("Channel repopulated, resuming transcription",
			zap.String("guild_id", sess.GuildID.String()))
		s.notifier.Emit(Event{Type: EventResumed, GuildID: sess.GuildID})
	}
}
