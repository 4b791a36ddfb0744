package plugin

import (
	"context"
	"testing"

	"github.com/openclaw-china/gatewaycore/pkg/config"
	"github.com/openclaw-china/gatewaycore/pkg/lifecycle"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	channel, accountID string
}

func (f *fakeGateway) Channel() string                          { return f.channel }
func (f *fakeGateway) AccountID() string                        { return f.accountID }
func (f *fakeGateway) StartAccount(ctx context.Context) error    { return nil }
func (f *fakeGateway) StopAccount(ctx context.Context) error     { return nil }
func (f *fakeGateway) IsRunning() bool                           { return false }
func (f *fakeGateway) Configured() bool                          { return true }
func (f *fakeGateway) CanSendActive() bool                       { return true }

func TestManager_RegisterAndGet(t *testing.T) {
	lm := lifecycle.NewManager(nil)
	m := NewManager(lm)

	p := &Plugin{
		ID:   ID("wecom-app", "default"),
		Meta: Meta{Name: "WeCom Self-built Application"},
		Config: config.ResolvedAccount{
			Channel: "wecom-app", AccountID: "default", Enabled: true,
		},
		Directory: Directory{Channel: "wecom-app"},
		Gateway:   &fakeGateway{channel: "wecom-app", accountID: "default"},
	}

	require.NoError(t, m.Register(p))

	got, ok := m.Get("wecom-app/default")
	require.True(t, ok)
	require.Equal(t, p, got)
	require.Equal(t, []string{"wecom-app/default"}, m.IDs())

	require.True(t, got.Directory.CanResolve("wecom-app:user:abc"))
	require.Equal(t, "abc", got.Directory.ResolveTarget("wecom-app:user:abc").To)
}

func TestManager_RegisterRejectsDuplicateID(t *testing.T) {
	m := NewManager(lifecycle.NewManager(nil))
	p1 := &Plugin{ID: "qqbot/default", Gateway: &fakeGateway{channel: "qqbot", accountID: "default"}}
	p2 := &Plugin{ID: "qqbot/default", Gateway: &fakeGateway{channel: "qqbot", accountID: "default"}}

	require.NoError(t, m.Register(p1))
	require.Error(t, m.Register(p2))
}

func TestManager_RegisterRejectsMissingGateway(t *testing.T) {
	m := NewManager(lifecycle.NewManager(nil))
	require.Error(t, m.Register(&Plugin{ID: "feishu/default"}))
}
