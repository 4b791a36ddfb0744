package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/openclaw-china/gatewaycore/pkg/config"
	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/openclaw-china/gatewaycore/pkg/host"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct{}

func (fakeRouter) ResolveAgentRoute(ctx context.Context, req host.RouteRequest) (host.ResolvedRoute, error) {
	return host.ResolvedRoute{SessionKey: "sess:" + req.Peer.ID, AccountID: req.AccountID, AgentID: "agent1"}, nil
}

type fakeSessionStore struct {
	recorded []string
}

func (f *fakeSessionStore) ResolveStorePath(sessionKey string) (string, error) { return "/tmp/" + sessionKey, nil }
func (f *fakeSessionStore) ReadSessionUpdatedAt(ctx context.Context, sessionKey string) (time.Time, error) {
	return time.Now().Add(-time.Hour), nil
}
func (f *fakeSessionStore) RecordInboundSession(ctx context.Context, sessionKey string, peer host.Peer) error {
	f.recorded = append(f.recorded, sessionKey)
	return nil
}

type fakeReplyDispatcher struct {
	deliver      host.DeliverFunc
	dispatched   []string
	markedIdle   bool
}

func (f *fakeReplyDispatcher) Dispatch(ctx context.Context, agentBody string) error {
	f.dispatched = append(f.dispatched, agentBody)
	return f.deliver(ctx, host.DeliverFinal, "reply to: "+agentBody)
}
func (f *fakeReplyDispatcher) MarkIdle() { f.markedIdle = true }

type fakeReplyService struct {
	lastDispatcher *fakeReplyDispatcher
	finalized      bool
}

func (f *fakeReplyService) CreateReplyDispatcher(ctx context.Context, opts host.ReplyDispatcherOptions) (host.ReplyDispatcher, error) {
	f.lastDispatcher = &fakeReplyDispatcher{deliver: opts.Deliver}
	return f.lastDispatcher, nil
}
func (f *fakeReplyService) FormatAgentEnvelope(rawBody string, opts host.EnvelopeFormatOptions) string {
	return "[" + opts.ChannelLabel + "] " + rawBody
}
func (f *fakeReplyService) FinalizeInboundContext(ctx context.Context, route host.ResolvedRoute) error {
	f.finalized = true
	return nil
}
func (f *fakeReplyService) ResolveEnvelopeFormatOptions(channel, accountID string, peer host.Peer) host.EnvelopeFormatOptions {
	return host.EnvelopeFormatOptions{ChannelLabel: channel}
}
func (f *fakeReplyService) ResolveHumanDelayConfig(channel, accountID string) host.HumanDelayConfig {
	return host.HumanDelayConfig{}
}

func TestCoordinator_Dispatch_FullSequence(t *testing.T) {
	sessions := &fakeSessionStore{}
	replies := &fakeReplyService{}
	rt := host.Runtime{Router: fakeRouter{}, Session: sessions, Reply: replies}
	coord := NewCoordinator(rt, "wecom-app", config.DefaultPolicy())

	env := envelope.InboundEnvelope{
		MessageID: "m1",
		PeerID:    "peer1",
		AccountID: "default",
		ChatType:  envelope.ChatDirect,
		RawBody:   "hello",
	}

	var delivered []string
	err := coord.Dispatch(context.Background(), env, func(ctx context.Context, kind host.DeliverKind, content string) error {
		delivered = append(delivered, content)
		return nil
	})
	require.NoError(t, err)
	require.Contains(t, sessions.recorded, "sess:peer1")
	require.True(t, replies.finalized)
	require.True(t, replies.lastDispatcher.markedIdle)
	require.Equal(t, []string{"reply to: [wecom-app] hello"}, delivered)
}

func TestCoordinator_Dispatch_DropsPolicyDeniedSilently(t *testing.T) {
	sessions := &fakeSessionStore{}
	replies := &fakeReplyService{}
	rt := host.Runtime{Router: fakeRouter{}, Session: sessions, Reply: replies}
	coord := NewCoordinator(rt, "wecom-app", config.Policy{DMPolicy: config.DMDisabled})

	env := envelope.InboundEnvelope{
		MessageID: "m1",
		PeerID:    "peer1",
		AccountID: "default",
		ChatType:  envelope.ChatDirect,
		RawBody:   "hello",
	}

	called := false
	err := coord.Dispatch(context.Background(), env, func(ctx context.Context, kind host.DeliverKind, content string) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called)
	require.Empty(t, sessions.recorded)
	require.Nil(t, replies.lastDispatcher)
}
