// Package dispatch implements the dispatch coordinator of §4.H: resolve
// route, read session state, record the inbound session, format the
// agent-facing body, and drive a buffered reply dispatcher whose deliver
// callback performs chunking/sending (or, for DingTalk, card streaming).
package dispatch

import (
	"context"
	"fmt"

	"github.com/openclaw-china/gatewaycore/pkg/config"
	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/openclaw-china/gatewaycore/pkg/host"
	"github.com/openclaw-china/gatewaycore/pkg/logger"
	"github.com/openclaw-china/gatewaycore/pkg/policy"
)

// DeliverChunk is supplied by the per-channel outbound sender; it performs
// markdown-table conversion, chunking, and delivery of one reply block.
type DeliverChunk func(ctx context.Context, kind host.DeliverKind, content string) error

// Coordinator runs the dispatch sequence for one channel account.
type Coordinator struct {
	Runtime host.Runtime
	Channel string
	Policy  config.Policy
}

func NewCoordinator(rt host.Runtime, channel string, pol config.Policy) *Coordinator {
	return &Coordinator{Runtime: rt, Channel: channel, Policy: pol}
}

// Dispatch executes the admission gate followed by the five-step sequence
// from §4.H. A policy-denied envelope is dropped silently (§7's
// PolicyDenied kind; §8's "dispatched iff wasMentioned ∨ direct" boundary).
// deliver is invoked by the Host's buffered block dispatcher for each reply
// block; errors from deliver are logged per-kind and do not interrupt the
// stream.
func (c *Coordinator) Dispatch(ctx context.Context, env envelope.InboundEnvelope, deliver DeliverChunk) error {
	decision := policy.Evaluate(env.ChatType, env.SenderID, env.PeerID, env.WasMentioned, c.Policy)
	if !decision.Allowed {
		logger.DebugCF("dispatch", "dropped by policy", map[string]any{
			"channel": c.Channel, "peer": env.PeerID, "reason": decision.Reason,
			"kind": string(envelope.ErrKindPolicyDenied),
		})
		return nil
	}

	peer := host.Peer{Channel: c.Channel, AccountID: env.AccountID, ID: env.PeerID}

	route, err := c.Runtime.Router.ResolveAgentRoute(ctx, host.RouteRequest{
		Channel:   c.Channel,
		AccountID: env.AccountID,
		Peer:      peer,
	})
	if err != nil {
		return fmt.Errorf("resolve agent route: %w", err)
	}

	prevUpdated, err := c.Runtime.Session.ReadSessionUpdatedAt(ctx, route.SessionKey)
	if err != nil {
		logger.WarnCF("dispatch", "failed to read session updated-at", map[string]any{
			"channel": c.Channel, "error": err.Error(),
		})
	}

	if err := c.Runtime.Session.RecordInboundSession(ctx, route.SessionKey, peer); err != nil {
		logger.WarnCF("dispatch", "failed to record inbound session", map[string]any{
			"channel": c.Channel, "error": err.Error(),
		})
	}

	fmtOpts := c.Runtime.Reply.ResolveEnvelopeFormatOptions(c.Channel, env.AccountID, peer)
	fmtOpts.PreviousTimestamp = prevUpdated
	agentBody := c.Runtime.Reply.FormatAgentEnvelope(env.RawBody, fmtOpts)

	wrappedDeliver := func(ctx context.Context, kind host.DeliverKind, content string) error {
		if err := deliver(ctx, kind, content); err != nil {
			logger.ErrorCF("dispatch", "deliver failed", map[string]any{
				"channel": c.Channel, "kind": string(kind), "error": err.Error(),
			})
		}
		return nil
	}

	rd, err := c.Runtime.Reply.CreateReplyDispatcher(ctx, host.ReplyDispatcherOptions{
		SessionKey: route.SessionKey,
		Peer:       peer,
		Deliver:    wrappedDeliver,
	})
	if err != nil {
		return fmt.Errorf("create reply dispatcher: %w", err)
	}
	defer rd.MarkIdle()

	if err := rd.Dispatch(ctx, agentBody); err != nil {
		return fmt.Errorf("dispatch reply stream: %w", err)
	}

	return c.Runtime.Reply.FinalizeInboundContext(ctx, route)
}
