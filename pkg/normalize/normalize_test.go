package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/stretchr/testify/require"
)

func TestComposeBody_AppendsSavedReferencesAndTranscript(t *testing.T) {
	body := ComposeBody("hello", []envelope.Attachment{
		{Source: envelope.SourceVoice, SavedPath: "/tmp/a.amr", Transcript: "hi there"},
		{Source: envelope.SourceImage, SavedPath: "/tmp/b.png"},
		{Source: envelope.SourceFile}, // unsaved, skipped
	})
	require.Contains(t, body, "hello")
	require.Contains(t, body, "[voice] saved:/tmp/a.amr (transcript: hi there)")
	require.Contains(t, body, "[image] saved:/tmp/b.png")
}

type fakeTranscriber struct {
	result string
	err    error
}

func (f fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return f.result, f.err
}

func TestTranscribeVoice_FillsMissingTranscriptOnly(t *testing.T) {
	in := []envelope.Attachment{
		{Source: envelope.SourceVoice, SavedPath: "/tmp/a.amr"},
		{Source: envelope.SourceVoice, SavedPath: "/tmp/b.amr", Transcript: "already have one"},
		{Source: envelope.SourceImage, SavedPath: "/tmp/c.png"},
	}
	out := TranscribeVoice(context.Background(), fakeTranscriber{result: "new transcript"}, in)
	require.Equal(t, "new transcript", out[0].Transcript)
	require.Equal(t, "already have one", out[1].Transcript)
	require.Equal(t, "", out[2].Transcript)
}

func TestTranscribeVoice_NonFatalOnError(t *testing.T) {
	in := []envelope.Attachment{{Source: envelope.SourceVoice, SavedPath: "/tmp/a.amr"}}
	out := TranscribeVoice(context.Background(), fakeTranscriber{err: errors.New("boom")}, in)
	require.Equal(t, "", out[0].Transcript)
}

func TestDetectMention(t *testing.T) {
	require.True(t, DetectMention("hey @bot do something", "@bot"))
	require.False(t, DetectMention("hello world", "@bot"))
	require.False(t, DetectMention("hello world", ""))
}
