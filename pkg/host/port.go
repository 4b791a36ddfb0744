// Package host defines the Host runtime port: the statically typed surface
// the core consumes from its host agent runtime, per §6 and the DESIGN
// NOTES' "dynamic runtime lookup → statically typed port" guidance.
package host

import (
	"context"
	"time"
)

// Peer identifies the conversation target a message flows to or from.
type Peer struct {
	Channel   string
	AccountID string
	ID        string
}

// RouteRequest is the input to Router.ResolveAgentRoute.
type RouteRequest struct {
	Channel   string
	AccountID string
	Peer      Peer
}

// ResolvedRoute is the Host's answer to an agent-route resolution.
type ResolvedRoute struct {
	SessionKey     string
	AccountID      string
	AgentID        string
	MainSessionKey string
}

// Router resolves which agent/session a given inbound message routes to.
type Router interface {
	ResolveAgentRoute(ctx context.Context, req RouteRequest) (ResolvedRoute, error)
}

// SessionStore is the Host's conversation session store.
type SessionStore interface {
	ResolveStorePath(sessionKey string) (string, error)
	ReadSessionUpdatedAt(ctx context.Context, sessionKey string) (time.Time, error)
	RecordInboundSession(ctx context.Context, sessionKey string, peer Peer) error
}

// EnvelopeFormatOptions controls how an agent-facing body is annotated.
type EnvelopeFormatOptions struct {
	ChannelLabel        string
	From                string
	PreviousTimestamp   time.Time
	IncludePreviousTime bool
}

// HumanDelayConfig describes the Host's configured typing-delay simulation;
// the core only reads it, it never schedules delays itself.
type HumanDelayConfig struct {
	Enabled     bool
	MinDelay    time.Duration
	MaxDelay    time.Duration
	PerCharacter time.Duration
}

// DeliverKind distinguishes the stage of a streamed reply block.
type DeliverKind string

const (
	DeliverTyping  DeliverKind = "typing"
	DeliverInterim DeliverKind = "interim"
	DeliverFinal   DeliverKind = "final"
)

// DeliverFunc is invoked by the Host's buffered block dispatcher for each
// reply block; the core supplies the closure, the Host calls it.
type DeliverFunc func(ctx context.Context, kind DeliverKind, content string) error

// ReplyDispatcherOptions configures CreateReplyDispatcher.
type ReplyDispatcherOptions struct {
	SessionKey string
	Peer       Peer
	Deliver    DeliverFunc
}

// ReplyDispatcher is the handle the Host returns from
// CreateReplyDispatcher; Dispatch streams reply blocks through Deliver,
// MarkIdle releases it once the reply stream completes.
type ReplyDispatcher interface {
	Dispatch(ctx context.Context, agentBody string) error
	MarkIdle()
}

// ReplyService is the Host's reply-buffering and formatting surface.
type ReplyService interface {
	CreateReplyDispatcher(ctx context.Context, opts ReplyDispatcherOptions) (ReplyDispatcher, error)
	FormatAgentEnvelope(rawBody string, opts EnvelopeFormatOptions) string
	FinalizeInboundContext(ctx context.Context, route ResolvedRoute) error
	ResolveEnvelopeFormatOptions(channel, accountID string, peer Peer) EnvelopeFormatOptions
	ResolveHumanDelayConfig(channel, accountID string) HumanDelayConfig
}

// MarkdownTableMode controls how §4.I's chunker renders Markdown tables for
// platforms that do not render the GFM table syntax.
type MarkdownTableMode string

const (
	TableModeNative  MarkdownTableMode = "native"
	TableModeBullets MarkdownTableMode = "bullets"
)

// TextChunker is the Host's markdown-aware chunking surface.
type TextChunker interface {
	ChunkMarkdownText(text string, limit int) []string
	ChunkTextWithMode(text string, limit int, mode MarkdownTableMode) []string
	ResolveTextChunkLimit(channel string, configured int) int
	ConvertMarkdownTables(text string, mode MarkdownTableMode) string
	ResolveMarkdownTableMode(channel string) MarkdownTableMode
}

// Runtime bundles every Host service the core consumes; one Runtime is
// injected per plug-in instance at construction time.
type Runtime struct {
	Router  Router
	Session SessionStore
	Reply   ReplyService
	Text    TextChunker
}
