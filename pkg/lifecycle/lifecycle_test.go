package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAccount struct {
	channel, accountID string
	running            atomic.Bool
	startCalls         atomic.Int32
	stopCalls          atomic.Int32
}

func (f *fakeAccount) Channel() string   { return f.channel }
func (f *fakeAccount) AccountID() string { return f.accountID }
func (f *fakeAccount) StartAccount(ctx context.Context) error {
	f.startCalls.Add(1)
	f.running.Store(true)
	return nil
}
func (f *fakeAccount) StopAccount(ctx context.Context) error {
	f.stopCalls.Add(1)
	f.running.Store(false)
	return nil
}
func (f *fakeAccount) IsRunning() bool      { return f.running.Load() }
func (f *fakeAccount) Configured() bool     { return true }
func (f *fakeAccount) CanSendActive() bool  { return true }

func TestManager_StartStopAccount(t *testing.T) {
	var statuses []Status
	m := NewManager(func(s Status) { statuses = append(statuses, s) })
	acct := &fakeAccount{channel: "wecom-app", accountID: "default"}
	m.Register(acct)

	require.NoError(t, m.StartAccount(context.Background(), "wecom-app", "default"))
	require.True(t, acct.IsRunning())

	require.NoError(t, m.StopAccount(context.Background(), "wecom-app", "default"))
	require.False(t, acct.IsRunning())

	require.Len(t, statuses, 2)
	require.True(t, statuses[0].Running)
	require.False(t, statuses[1].Running)
}

func TestManager_ReloadRestartsOnlyNamedAccounts(t *testing.T) {
	m := NewManager(nil)
	alice := &fakeAccount{channel: "wecom-app", accountID: "alice"}
	bob := &fakeAccount{channel: "wecom-app", accountID: "bob"}
	m.Register(alice)
	m.Register(bob)
	m.StartAll(context.Background())

	require.NoError(t, m.Reload(context.Background(), []string{"wecom-app/alice"}))

	require.Equal(t, int32(2), alice.startCalls.Load())
	require.Equal(t, int32(1), alice.stopCalls.Load())
	require.Equal(t, int32(1), bob.startCalls.Load())
	require.Equal(t, int32(0), bob.stopCalls.Load())
}

func TestManager_StopAllStopsEveryAccount(t *testing.T) {
	m := NewManager(nil)
	alice := &fakeAccount{channel: "wecom-app", accountID: "alice"}
	m.Register(alice)
	m.StartAll(context.Background())
	m.StopAll(context.Background())
	require.False(t, alice.IsRunning())
}
