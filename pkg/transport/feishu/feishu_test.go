package feishu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransport_ConfiguredAndMetadata(t *testing.T) {
	tr := New("default", "app1", "secret1", "vtoken", "ekey", nil)
	require.Equal(t, "feishu", tr.Channel())
	require.Equal(t, "default", tr.AccountID())
	require.True(t, tr.Configured())
	require.True(t, tr.CanSendActive())
	require.False(t, tr.IsRunning())
	require.NotNil(t, tr.Client())

	missing := New("default", "", "", "vtoken", "ekey", nil)
	require.False(t, missing.Configured())
	require.False(t, missing.CanSendActive())
}

func TestExtractTextContent(t *testing.T) {
	require.Equal(t, "hello there", extractTextContent(`{"text":"hello there"}`))
}

func TestExtractTextContent_MalformedJSON(t *testing.T) {
	require.Equal(t, "", extractTextContent("not json"))
}

func TestExtractTextContent_MissingField(t *testing.T) {
	require.Equal(t, "", extractTextContent(`{"image_key":"abc"}`))
}
