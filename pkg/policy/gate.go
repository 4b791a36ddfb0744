// Package policy implements the admission gate of §4.E: direct-message and
// group admission checks against a resolved account's policy block.
package policy

import (
	"github.com/openclaw-china/gatewaycore/pkg/config"
	"github.com/openclaw-china/gatewaycore/pkg/envelope"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluate implements the gate over (chatType, senderId, peerId,
// wasMentioned, policy) exactly as described in §4.E.
func Evaluate(chatType envelope.ChatType, senderID, peerID string, wasMentioned bool, p config.Policy) Decision {
	if chatType == envelope.ChatDirect {
		return evaluateDM(senderID, p)
	}
	return evaluateGroup(peerID, wasMentioned, p)
}

func evaluateDM(senderID string, p config.Policy) Decision {
	switch p.DMPolicy {
	case config.DMOpen:
		return Decision{Allowed: true, Reason: "dm open"}
	case config.DMPairing:
		return Decision{Allowed: true, Reason: "dm pairing"}
	case config.DMAllowlist:
		if p.AllowFrom.Contains(senderID) {
			return Decision{Allowed: true, Reason: "dm allowlist match"}
		}
		return Decision{Allowed: false, Reason: "dm allowlist miss"}
	default:
		return Decision{Allowed: false, Reason: "dm disabled"}
	}
}

func evaluateGroup(peerID string, wasMentioned bool, p config.Policy) Decision {
	if p.GroupPolicy == config.GroupDisabled {
		return Decision{Allowed: false, Reason: "group disabled"}
	}
	if p.GroupPolicy == config.GroupAllowlist && !p.GroupAllowFrom.Contains(peerID) {
		return Decision{Allowed: false, Reason: "group allowlist miss"}
	}
	if p.RequireMention && !wasMentioned {
		return Decision{Allowed: false, Reason: "mention required"}
	}
	return Decision{Allowed: true, Reason: "group allowed"}
}
