package policy

import (
	"testing"

	"github.com/openclaw-china/gatewaycore/pkg/config"
	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_DMAllowlist(t *testing.T) {
	p := config.Policy{DMPolicy: config.DMAllowlist, AllowFrom: config.FlexibleStringSlice{"u1"}}
	require.True(t, Evaluate(envelope.ChatDirect, "u1", "", false, p).Allowed)
	require.False(t, Evaluate(envelope.ChatDirect, "u2", "", false, p).Allowed)
}

func TestEvaluate_DMPairingAlwaysAllowed(t *testing.T) {
	p := config.Policy{DMPolicy: config.DMPairing}
	require.True(t, Evaluate(envelope.ChatDirect, "anyone", "", false, p).Allowed)
}

func TestEvaluate_GroupRequiresMentionByDefault(t *testing.T) {
	p := config.Policy{GroupPolicy: config.GroupOpen, RequireMention: true}
	require.False(t, Evaluate(envelope.ChatGroup, "u1", "g1", false, p).Allowed)
	require.True(t, Evaluate(envelope.ChatGroup, "u1", "g1", true, p).Allowed)
}

func TestEvaluate_GroupAllowlistMiss(t *testing.T) {
	p := config.Policy{GroupPolicy: config.GroupAllowlist, GroupAllowFrom: config.FlexibleStringSlice{"g1"}, RequireMention: false}
	require.False(t, Evaluate(envelope.ChatGroup, "u1", "g2", true, p).Allowed)
	require.True(t, Evaluate(envelope.ChatGroup, "u1", "g1", true, p).Allowed)
}

func TestEvaluate_GroupDisabled(t *testing.T) {
	p := config.Policy{GroupPolicy: config.GroupDisabled}
	require.False(t, Evaluate(envelope.ChatGroup, "u1", "g1", true, p).Allowed)
}
