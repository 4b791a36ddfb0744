package config

import (
	"encoding/base64"
	"fmt"

	"github.com/caarlos0/env/v11"
)

const defaultAccountID = "default"

// ResolvedAccount is the merged, validated view of one (channel, accountId)
// pair: the result of §4.A's config resolver.
type ResolvedAccount struct {
	Channel       string
	AccountID     string
	Name          string
	Enabled       bool
	Configured    bool // credentials sufficient for ingress
	CanSendActive bool // credentials sufficient for Host-initiated send
	Policy        Policy

	MaxFileSizeMB  int
	TextChunkLimit int
	ReplyFinalOnly bool
	DMScope        SessionDMScope
}

// disabledStub is returned for unknown account IDs per §4.A.
func disabledStub(channel, accountID string) ResolvedAccount {
	return ResolvedAccount{
		Channel:   channel,
		AccountID: accountID,
		Enabled:   false,
		Policy:    DefaultPolicy(),
	}
}

// ApplyDefaultAccountEnv merges process environment variables into the
// default account's ChannelConfig using the struct's env tags. Non-default
// accounts are never touched by environment overrides.
func ApplyDefaultAccountEnv(cfg *ChannelConfig) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse channel env overrides: %w", err)
	}
	return nil
}

// ValidateAESKey checks that encodingAESKey decodes to exactly 32 bytes once
// padded with a trailing "=", per §4.C / §8's boundary-behavior property:
// lengths 42, 43, 44 (with or without trailing "=") all decode to 32 bytes
// iff lexically "43 chars + \"=\"".
func ValidateAESKey(key string) ([]byte, error) {
	padded := key
	if len(key) == 43 {
		padded = key + "="
	}
	decoded, err := base64.StdEncoding.DecodeString(padded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode encodingAESKey", ErrConfigInvalid)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("%w: encodingAESKey must decode to 32 bytes, got %d", ErrConfigInvalid, len(decoded))
	}
	return decoded, nil
}

// ResolveWeComApp merges a WeComAppConfig with a per-account override into a
// ResolvedAccount plus the raw credential tuple actually in force.
func ResolveWeComApp(cfg WeComAppConfig, accountID string) (ResolvedAccount, WeComAppCreds, error) {
	if accountID == "" {
		accountID = cfg.DefaultAccount
	}
	if accountID == "" {
		accountID = defaultAccountID
	}

	override, hasOverride := cfg.Accounts[accountID]
	if accountID != defaultAccountID && !hasOverride {
		return disabledStub("wecom-app", accountID), WeComAppCreds{}, nil
	}

	creds := WeComAppCreds{
		CorpID:         cfg.CorpID,
		CorpSecret:     cfg.CorpSecret,
		AgentID:        cfg.AgentID,
		Token:          cfg.Token,
		EncodingAESKey: cfg.EncodingAESKey,
	}
	enabled := cfg.Enabled
	policy := cfg.Policy
	name := accountID

	if hasOverride {
		if override.WeComApp != nil {
			creds = *override.WeComApp
		}
		if override.Enabled != nil {
			enabled = *override.Enabled
		}
		if override.Policy != nil {
			policy = *override.Policy
		}
		if override.Name != "" {
			name = override.Name
		}
	}

	ra := ResolvedAccount{
		Channel:        "wecom-app",
		AccountID:      accountID,
		Name:           name,
		Enabled:        enabled,
		Policy:         policy,
		MaxFileSizeMB:  nonZeroOr(cfg.MaxFileSizeMB, 100),
		TextChunkLimit: nonZeroOr(cfg.TextChunkLimit, 2048),
		ReplyFinalOnly: cfg.ReplyFinalOnly,
		DMScope:        cfg.DMScope,
	}

	if creds.AgentID <= 0 {
		return ra, creds, fmt.Errorf("%w: agentId must be a positive integer", ErrConfigInvalid)
	}
	if creds.EncodingAESKey != "" {
		if _, err := ValidateAESKey(creds.EncodingAESKey); err != nil {
			return ra, creds, err
		}
	}

	ra.Configured = creds.CorpID != "" && creds.Token != "" && creds.EncodingAESKey != ""
	ra.CanSendActive = creds.CorpID != "" && creds.CorpSecret != "" && creds.AgentID > 0

	return ra, creds, nil
}

func nonZeroOr(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
