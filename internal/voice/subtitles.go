package voice

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/pkg/util"
)

// SubtitleView is the live subtitle message for one session: a rolling
// window of the latest transcript lines, edited in place. A burst of lines
// coalesces into a single edit via the trailing-edge debouncer.
type SubtitleView struct {
	channelID discord.ChannelID
	capacity  int

	mu        sync.Mutex
	lines     []string
	messageID discord.MessageID

	debouncer *util.Debouncer
}

// SubtitleRenderer creates and updates subtitle views against the gateway.
type SubtitleRenderer struct {
	logger  *zap.Logger
	cfg     *config.VoiceConfig
	gateway Gateway
}

func NewSubtitleRenderer(logger *zap.Logger, cfg *config.Config, gateway Gateway) *SubtitleRenderer {
	return &SubtitleRenderer{
		logger:  logger.Named("voice_subtitles"),
		cfg:     &cfg.Voice,
		gateway: gateway,
	}
}

// NewView creates a subtitle view bound to a text channel. The backing
// message is created lazily on the first render.
func (r *SubtitleRenderer) NewView(channelID discord.ChannelID) *SubtitleView {
	v := &SubtitleView{
		channelID: channelID,
		capacity:  r.cfg.SubtitleLines,
	}
	v.debouncer = util.NewDebouncer(
		time.Duration(r.cfg.SubtitleDebounceMs)*time.Millisecond,
		func() { r.render(v) },
	)

	return v
}

// Append pushes one line into the rolling window and schedules a render.
func (r *SubtitleRenderer) Append(v *SubtitleView, speaker, text string) {
	if v == nil {
		return
	}

	line := fmt.Sprintf("**%s:** %s", speaker, text)

	v.mu.Lock()
	v.lines = append(v.lines, line)
	if len(v.lines) > v.capacity {
		v.lines = v.lines[len(v.lines)-v.capacity:]
	}
	v.mu.Unlock()

	v.debouncer.Trigger()
}

// Close flushes any pending render and stops the debouncer. The subtitle
// message is left in place as a tail of the session.
func (r *SubtitleRenderer) Close(v *SubtitleView) {
	if v == nil {
		return
	}

	v.debouncer.Flush()
	v.debouncer.Stop()
}

func (r *SubtitleRenderer) render(v *SubtitleView) {
	v.mu.Lock()
	content := r.format(v.lines)
	messageID := v.messageID
	v.mu.Unlock()

	if content == "" {
		return
	}

	if messageID == 0 {
		id, err := r.gateway.SendMessage(v.channelID, content)
		if err != nil {
			r.logger.Warn("Failed to create subtitle message", zap.Error(err))

			return
		}

		v.mu.Lock()
		v.messageID = id
		v.mu.Unlock()

		return
	}

	if err := r.gateway.EditMessage(v.channelID, messageID, content); err != nil {
		// The message may have been deleted by a moderator. Forget it and
		// let the next render create a replacement.
		r.logger.Warn("Failed to edit subtitle message, will recreate",
			zap.String("message_id", messageID.String()),
			zap.Error(err))

		v.mu.Lock()
		if v.messageID == messageID {
			v.messageID = 0
		}
		v.mu.Unlock()
	}
}

func (r *SubtitleRenderer) format(lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	return "🎙️ **Live transcript**\n" + strings.Join(lines, "\n")
}
