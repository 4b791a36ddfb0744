// Package directory resolves Host-supplied target strings of the form
// "channel:type:id@account" to {channel, accountId, peerId}, per §4.K.
package directory

import "strings"

var knownChannels = map[string]bool{
	"dingtalk":  true,
	"feishu":    true,
	"wecom":     true,
	"wecom-app": true,
	"qqbot":     true,
}

// Target is the resolved form of a raw target string.
type Target struct {
	Channel   string
	AccountID string
	To        string
}

// CanResolve reports whether target either carries no channel prefix or
// carries the given channel's own prefix; it rejects targets that name a
// different channel.
func CanResolve(channel, target string) bool {
	prefix, rest := splitChannelPrefix(target)
	if prefix == "" {
		return true
	}
	if prefix != channel {
		return false
	}
	_ = rest
	return true
}

// ResolveTarget strips an optional channel prefix, an optional @accountId
// suffix (only when the suffix itself contains no ":" or "/"), and an
// optional user:/group: type prefix, per §4.K.
func ResolveTarget(defaultChannel, target string) Target {
	prefix, rest := splitChannelPrefix(target)
	channel := defaultChannel
	if prefix != "" {
		channel = prefix
	}

	accountID := ""
	bare := rest
	if idx := strings.LastIndex(rest, "@"); idx >= 0 {
		suffix := rest[idx+1:]
		if !strings.ContainsAny(suffix, ":/") {
			accountID = suffix
			bare = rest[:idx]
		}
	}

	bare = stripTypePrefix(bare)

	return Target{Channel: channel, AccountID: accountID, To: bare}
}

// ResolveTargets resolves each target string in turn.
func ResolveTargets(defaultChannel string, targets []string) []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		out = append(out, ResolveTarget(defaultChannel, t))
	}
	return out
}

// GetTargetFormats documents, per channel, the canonical target string
// shape a caller should use.
func GetTargetFormats() map[string]string {
	return map[string]string{
		"dingtalk":  "dingtalk:user:<staffId>@<accountId>",
		"feishu":    "feishu:user:<openId>@<accountId>",
		"wecom":     "wecom:user:<externalUserId>@<accountId>",
		"wecom-app": "wecom-app:user:<userId>@<accountId>",
		"qqbot":     "qqbot:group:<openId>@<accountId>",
	}
}

func splitChannelPrefix(target string) (prefix, rest string) {
	for ch := range knownChannels {
		p := ch + ":"
		if strings.HasPrefix(target, p) {
			return ch, strings.TrimPrefix(target, p)
		}
	}
	return "", target
}

func stripTypePrefix(s string) string {
	for _, p := range []string{"user:", "group:"} {
		if strings.HasPrefix(s, p) {
			return strings.TrimPrefix(s, p)
		}
	}
	return s
}
