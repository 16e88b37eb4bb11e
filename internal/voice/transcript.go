package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/internal/llm"
)

// Transcript is the append-only record of a session. Reads return copies;
// entries are never mutated or removed.
type Transcript struct {
	mu      sync.RWMutex
	entries []TranscriptEntry
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds one entry.
func (t *Transcript) Append(e TranscriptEntry) {
	if e.TimestampMs == 0 {
		e.TimestampMs = time.Now().UnixMilli()
	}

	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

// Entries returns a copy of all entries in append order.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)

	return out
}

// Tail returns a copy of the most recent n entries, or all of them when
// n <= 0 or exceeds the transcript length.
func (t *Transcript) Tail(n int) []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	start := 0
	if n > 0 && len(t.entries) > n {
		start = len(t.entries) - n
	}

	out := make([]TranscriptEntry, len(t.entries)-start)
	copy(out, t.entries[start:])

	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// Exporter renders a finished session's transcript to markdown and delivers
// it to the session's text channel. Every step is best effort: an export
// failure never blocks session teardown.
type Exporter struct {
	logger    *zap.Logger
	cfg       *config.VoiceConfig
	gateway   Gateway
	completer llm.Completer
}

func NewExporter(logger *zap.Logger, cfg *config.Config, gateway Gateway, completer llm.Completer) *Exporter {
	return &Exporter{
		logger:    logger.Named("voice_exporter"),
		cfg:       &cfg.Voice,
		gateway:   gateway,
		completer: completer,
	}
}

// Finalize summarizes and exports the session transcript. Returns the
// rendered markdown for callers that want it; delivery failures are logged
// and swallowed.
func (x *Exporter) Finalize(ctx context.Context, sess *Session, reason string) string {
	entries := sess.transcript.Entries()
	log := x.logger.With(zap.String("guild_id", sess.GuildID.String()))

	if len(entries) == 0 {
		log.Info("Skipping transcript export, nothing was said")

		return ""
	}

	summary := ""
	if len(entries) >= x.cfg.SummaryMinEntries {
		s, err := x.summarize(ctx, entries)
		if err != nil {
			log.Warn("Transcript summary failed, exporting without one", zap.Error(err))
		} else {
			summary = s
		}
	}

	doc := RenderMarkdown(sess, entries, summary, reason)

	if sess.TextChannelID == 0 {
		log.Info("No text channel bound, keeping transcript local",
			zap.Int("entries", len(entries)))

		return doc
	}

	name := fmt.Sprintf("transcript-%s.md", sess.StartedAt.Format("2006-01-02-1504"))
	note := fmt.Sprintf("📜 Voice session ended (%s). Transcript attached, %d lines.", reason, len(entries))
	if err := x.gateway.SendFile(sess.TextChannelID, note, name, []byte(doc)); err != nil {
		log.Error("Failed to deliver transcript", zap.Error(err))
	}

	return doc
}

func (x *Exporter) summarize(ctx context.Context, entries []TranscriptEntry) (string, error) {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.SpeakerName, e.Text)
	}

	system := "You summarize tabletop RPG voice sessions. Write a short recap " +
		"(at most five sentences) of what happened: key events, dice outcomes, " +
		"decisions. Plain prose, no headings."

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return x.completer.Complete(ctx, b.String(), system, 300)
}

// RenderMarkdown builds the export document. Consecutive entries from the
// same speaker collapse into one block.
func RenderMarkdown(sess *Session, entries []TranscriptEntry, summary, reason string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Voice Session Transcript\n\n")
	fmt.Fprintf(&b, "- **Started:** %s\n", sess.StartedAt.Format(time.RFC1123))
	fmt.Fprintf(&b, "- **Ended:** %s (%s)\n", time.Now().Format(time.RFC1123), reason)
	fmt.Fprintf(&b, "- **Lines:** %d\n", len(entries))

	if summary != "" {
		b.WriteString("\n## Summary\n\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	b.WriteString("\n## Transcript\n")

	prevSpeaker := ""
	for _, e := range entries {
		speaker := e.SpeakerName
		if e.FromBot {
			speaker = "🤖 " + speaker
		}
		if speaker != prevSpeaker {
			ts := time.UnixMilli(e.TimestampMs).Format("15:04:05")
			fmt.Fprintf(&b, "\n**%s** · %s\n", speaker, ts)
			prevSpeaker = speaker
		}
		line := e.Text
		if e.IsCommand {
			line = "⚡ " + line
		}
		fmt.Fprintf(&b, "> %s\n", line)
	}

	return b.String()
}
