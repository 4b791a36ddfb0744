package dingtalk

import (
	"testing"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/stretchr/testify/require"
)

func TestTransport_ConfiguredAndMetadata(t *testing.T) {
	tr := New("default", "client1", "secret1", "@bot", nil)
	require.Equal(t, "dingtalk", tr.Channel())
	require.Equal(t, "default", tr.AccountID())
	require.True(t, tr.Configured())
	require.False(t, tr.CanSendActive())
	require.False(t, tr.IsRunning())

	missing := New("default", "", "", "@bot", nil)
	require.False(t, missing.Configured())
}

func TestMentioned_ByGroupTriggerPrefix(t *testing.T) {
	data := &chatbot.BotCallbackDataModel{}
	content := "@bot do the thing"
	require.True(t, mentioned(data, "@bot", &content))
	require.Equal(t, " do the thing", content)
}

func TestMentioned_NoMatch(t *testing.T) {
	data := &chatbot.BotCallbackDataModel{}
	content := "just chatting"
	require.False(t, mentioned(data, "@bot", &content))
	require.Equal(t, "just chatting", content)
}

func TestSessionWebhook_NotFoundByDefault(t *testing.T) {
	tr := New("default", "client1", "secret1", "@bot", nil)
	_, ok := tr.SessionWebhook("peer1")
	require.False(t, ok)
}
