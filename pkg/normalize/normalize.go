// Package normalize holds the channel-neutral half of §4.G's message
// normalizer: composing an envelope's agent-facing Body out of text plus
// saved-attachment references, voice transcription, and a trigger-keyword
// mention check. The per-channel parsing lives in each transport's own
// package, which calls these helpers directly.
package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/openclaw-china/gatewaycore/pkg/envelope"
)

// Transcriber converts a saved voice attachment into text; implementations
// live in pkg/asr. A nil Transcriber leaves Attachment.Transcript empty.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// ComposeBody appends each attachment's saved reference (and transcript, for
// voice) to the message text, in the stable "[kind] saved:<path>" form the
// Host's agent-formatting layer expects.
func ComposeBody(text string, attachments []envelope.Attachment) string {
	var b strings.Builder
	b.WriteString(text)
	for _, a := range attachments {
		if a.SavedPath == "" {
			continue
		}
		b.WriteString("\n[")
		b.WriteString(string(a.Source))
		b.WriteString("] ")
		b.WriteString(envelope.SavedRef(a.SavedPath))
		if a.Source == envelope.SourceVoice && a.Transcript != "" {
			fmt.Fprintf(&b, " (transcript: %s)", a.Transcript)
		}
	}
	return b.String()
}

// TranscribeVoice fills in Transcript for every voice attachment still
// missing one, via the supplied Transcriber. Failures are not returned: the
// attachment is left without a transcript, and the caller decides what to
// do about the empty Transcript (pkg/transport/qqbot replies with a
// fallback notice and skips dispatch).
func TranscribeVoice(ctx context.Context, t Transcriber, attachments []envelope.Attachment) []envelope.Attachment {
	if t == nil {
		return attachments
	}
	out := make([]envelope.Attachment, len(attachments))
	for i, a := range attachments {
		out[i] = a
		if a.Source != envelope.SourceVoice || a.SavedPath == "" || a.Transcript != "" {
			continue
		}
		if transcript, err := t.Transcribe(ctx, a.SavedPath); err == nil {
			out[i].Transcript = transcript
		}
	}
	return out
}

// DetectMention reports whether body contains the channel's configured
// group trigger keyword. An empty trigger never matches. It does not look
// for the bot's own ID or name.
func DetectMention(body, trigger string) bool {
	if trigger == "" {
		return false
	}
	return strings.Contains(body, trigger)
}
