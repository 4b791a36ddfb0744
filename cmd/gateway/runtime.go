package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openclaw-china/gatewaycore/pkg/host"
	"github.com/openclaw-china/gatewaycore/pkg/outbound"
)

// standaloneRuntime is a minimal, in-memory host.Runtime implementation for
// running gatewaycore without an embedding Host process (local testing,
// smoke-checking a new channel account). A production deployment replaces
// this with the Host's own Router/SessionStore/ReplyService/TextChunker,
// injected into pkg/host.Runtime the same way.
type standaloneRuntime struct {
	mu       sync.Mutex
	sessions map[string]time.Time
}

func newStandaloneRuntime() host.Runtime {
	r := &standaloneRuntime{sessions: make(map[string]time.Time)}
	return host.Runtime{
		Router:  r,
		Session: r,
		Reply:   r,
		Text:    r,
	}
}

func (r *standaloneRuntime) ResolveAgentRoute(ctx context.Context, req host.RouteRequest) (host.ResolvedRoute, error) {
	key := fmt.Sprintf("%s/%s/%s", req.Channel, req.AccountID, req.Peer.ID)
	return host.ResolvedRoute{SessionKey: key, AccountID: req.AccountID, AgentID: "default", MainSessionKey: key}, nil
}

func (r *standaloneRuntime) ResolveStorePath(sessionKey string) (string, error) {
	return "", nil
}

func (r *standaloneRuntime) ReadSessionUpdatedAt(ctx context.Context, sessionKey string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionKey], nil
}

func (r *standaloneRuntime) RecordInboundSession(ctx context.Context, sessionKey string, peer host.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionKey] = time.Now()
	return nil
}

func (r *standaloneRuntime) CreateReplyDispatcher(ctx context.Context, opts host.ReplyDispatcherOptions) (host.ReplyDispatcher, error) {
	return &echoDispatcher{opts: opts}, nil
}

func (r *standaloneRuntime) FormatAgentEnvelope(rawBody string, opts host.EnvelopeFormatOptions) string {
	return rawBody
}

func (r *standaloneRuntime) FinalizeInboundContext(ctx context.Context, route host.ResolvedRoute) error {
	return nil
}

func (r *standaloneRuntime) ResolveEnvelopeFormatOptions(channel, accountID string, peer host.Peer) host.EnvelopeFormatOptions {
	return host.EnvelopeFormatOptions{ChannelLabel: channel}
}

func (r *standaloneRuntime) ResolveHumanDelayConfig(channel, accountID string) host.HumanDelayConfig {
	return host.HumanDelayConfig{}
}

func (r *standaloneRuntime) ChunkMarkdownText(text string, limit int) []string {
	return outbound.ChunkText(text, limit)
}

func (r *standaloneRuntime) ChunkTextWithMode(text string, limit int, mode host.MarkdownTableMode) []string {
	if mode == host.TableModeBullets {
		text = outbound.BulletizeTables(text)
	}
	return outbound.ChunkText(text, limit)
}

func (r *standaloneRuntime) ResolveTextChunkLimit(channel string, configured int) int {
	if configured > 0 {
		return configured
	}
	return outbound.DingTalkChunkLimit
}

func (r *standaloneRuntime) ConvertMarkdownTables(text string, mode host.MarkdownTableMode) string {
	if mode == host.TableModeBullets {
		return outbound.BulletizeTables(text)
	}
	return text
}

func (r *standaloneRuntime) ResolveMarkdownTableMode(channel string) host.MarkdownTableMode {
	return host.TableModeNative
}

// echoDispatcher delivers the agent body straight back as a single final
// block; it stands in for the Host's real buffered streaming dispatcher.
type echoDispatcher struct {
	opts host.ReplyDispatcherOptions
}

func (d *echoDispatcher) Dispatch(ctx context.Context, agentBody string) error {
	return d.opts.Deliver(ctx, host.DeliverFinal, agentBody)
}

func (d *echoDispatcher) MarkIdle() {}
