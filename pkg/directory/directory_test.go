package directory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveTarget_StripsChannelPrefixAndAccount(t *testing.T) {
	target := ResolveTarget("wecom-app", "wecom-app:user:alice@acct1")
	require.Equal(t, Target{Channel: "wecom-app", AccountID: "acct1", To: "alice"}, target)
}

func TestResolveTarget_NoPrefixUsesDefaultChannel(t *testing.T) {
	target := ResolveTarget("qqbot", "group:g1")
	require.Equal(t, Target{Channel: "qqbot", AccountID: "", To: "g1"}, target)
}

func TestResolveTarget_AtSignInsideIDIsNotAnAccountSuffix(t *testing.T) {
	target := ResolveTarget("feishu", "feishu:user:open:id@weird/thing")
	require.Equal(t, "open:id@weird/thing", target.To)
	require.Empty(t, target.AccountID)
}

func TestCanResolve_RejectsOtherChannelPrefix(t *testing.T) {
	require.False(t, CanResolve("wecom-app", "qqbot:group:g1"))
	require.True(t, CanResolve("wecom-app", "wecom-app:user:alice"))
	require.True(t, CanResolve("wecom-app", "user:alice"))
}
