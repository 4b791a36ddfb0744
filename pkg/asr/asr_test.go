package asr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVoiceFormat(t *testing.T) {
	require.Equal(t, "wav", voiceFormat("a.wav"))
	require.Equal(t, "mp3", voiceFormat("a.mp3"))
	require.Equal(t, "amr", voiceFormat("a.amr"))
	require.Equal(t, "pcm", voiceFormat("a.bin"))
}

func TestTranscribe_ParsesResultAndSendsSignedHeaders(t *testing.T) {
	voicePath := writeTempAudio(t, "a.amr")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "SentenceRecognition", r.Header.Get("X-TC-Action"))
		require.Contains(t, r.Header.Get("Authorization"), "TC3-HMAC-SHA256 Credential=test-secret-id")
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), "\"EngSerViceType\":\"16k_zh\"")
		require.Contains(t, string(body), "\"VoiceFormat\":\"amr\"")
		w.Write([]byte(`{"Response":{"Result":"hello world","RequestId":"abc"}}`))
	}))
	defer server.Close()

	c := NewClient("app1", "test-secret-id", "test-secret-key")
	c.HTTP = server.Client()
	c.BaseURL = server.URL

	result, err := c.Transcribe(context.Background(), voicePath)
	require.NoError(t, err)
	require.Equal(t, "hello world", result)
}

func TestTranscribe_PropagatesPlatformError(t *testing.T) {
	voicePath := writeTempAudio(t, "a.amr")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":{"Error":{"Code":"FailedOperation","Message":"bad audio"}}}`))
	}))
	defer server.Close()

	c := NewClient("app1", "id", "key")
	c.HTTP = server.Client()
	c.BaseURL = server.URL

	_, err := c.Transcribe(context.Background(), voicePath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad audio")
}

func writeTempAudio(t *testing.T, name string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*-"+name)
	require.NoError(t, err)
	_, err = f.Write([]byte("fake-audio-bytes"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
