// Package config resolves per-channel, per-account configuration: it merges
// process env overrides, top-level channel config, and per-account
// overrides into a ResolvedAccount view.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexibleStringSlice unmarshals a JSON array whose elements may be encoded
// as either strings or numbers, matching allow-list fields such as
// allowFrom where QQ/WeCom numeric IDs are sometimes emitted unquoted.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
		default:
			return fmt.Errorf("unsupported allow-list element type %T", v)
		}
	}
	*f = out
	return nil
}

func (f FlexibleStringSlice) Contains(id string) bool {
	for _, v := range f {
		if v == id {
			return true
		}
	}
	return false
}

type DMPolicy string

const (
	DMOpen      DMPolicy = "open"
	DMPairing   DMPolicy = "pairing"
	DMAllowlist DMPolicy = "allowlist"
	DMDisabled  DMPolicy = "disabled"
)

type GroupPolicy string

const (
	GroupOpen      GroupPolicy = "open"
	GroupAllowlist GroupPolicy = "allowlist"
	GroupDisabled  GroupPolicy = "disabled"
)

// Policy is the per-account admission policy block.
type Policy struct {
	DMPolicy       DMPolicy            `json:"dmPolicy" env:"DM_POLICY" label:"DM policy"`
	GroupPolicy    GroupPolicy         `json:"groupPolicy" env:"GROUP_POLICY" label:"Group policy"`
	RequireMention bool                `json:"requireMention" env:"REQUIRE_MENTION" label:"Require mention"`
	AllowFrom      FlexibleStringSlice `json:"allowFrom" label:"DM allow list"`
	GroupAllowFrom FlexibleStringSlice `json:"groupAllowFrom" label:"Group allow list"`
}

func DefaultPolicy() Policy {
	return Policy{
		DMPolicy:       DMOpen,
		GroupPolicy:    GroupAllowlist,
		RequireMention: true,
	}
}

// SessionDMScope controls how direct-message session keys are scoped.
type SessionDMScope string

const (
	SessionMain             SessionDMScope = "main"
	SessionPerPeer          SessionDMScope = "per-peer"
	SessionPerChannelPeer   SessionDMScope = "per-channel-peer"
)

// ChannelConfig is the channel-neutral portion of channels.<id>.
type ChannelConfig struct {
	Enabled        bool                `json:"enabled" env:"ENABLED"`
	Policy         `json:",inline"`
	MaxFileSizeMB  int            `json:"maxFileSizeMB" env:"MAX_FILE_SIZE_MB"`
	TextChunkLimit int            `json:"textChunkLimit" env:"TEXT_CHUNK_LIMIT"`
	ReplyFinalOnly bool           `json:"replyFinalOnly" env:"REPLY_FINAL_ONLY"`
	DMScope        SessionDMScope `json:"session.dmScope" env:"SESSION_DM_SCOPE"`
	DefaultAccount string         `json:"defaultAccount" env:"DEFAULT_ACCOUNT"`

	Accounts map[string]AccountOverride `json:"accounts"`
}

// AccountOverride is one entry under channels.<id>.accounts.<accountId>.
type AccountOverride struct {
	Name    string   `json:"name"`
	Enabled *bool    `json:"enabled"`
	Policy  *Policy  `json:"policy"`

	// Channel-specific credential fields; zero-value means "not set" for
	// this account and the top-level channel credentials apply instead.
	DingTalk *DingTalkCreds `json:"dingtalk,omitempty"`
	Feishu   *FeishuCreds   `json:"feishu,omitempty"`
	WeCom    *WeComCreds    `json:"wecom,omitempty"`
	WeComApp *WeComAppCreds `json:"wecomApp,omitempty"`
	QQ       *QQCreds       `json:"qq,omitempty"`
}

type DingTalkConfig struct {
	ChannelConfig
	ClientID           string `json:"clientId" env:"DINGTALK_CLIENT_ID"`
	ClientSecret       string `json:"clientSecret" env:"DINGTALK_CLIENT_SECRET"`
	EnableAICard       bool   `json:"enableAICard" env:"DINGTALK_ENABLE_AI_CARD"`
	GroupTrigger       string `json:"groupTrigger" env:"DINGTALK_GROUP_TRIGGER"`
	ReasoningChannelID string `json:"reasoningChannelId" env:"DINGTALK_REASONING_CHANNEL_ID"`
}

type DingTalkCreds struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type FeishuConfig struct {
	ChannelConfig
	AppID              string `json:"appId" env:"FEISHU_APP_ID"`
	AppSecret          string `json:"appSecret" env:"FEISHU_APP_SECRET"`
	SendMarkdownAsCard bool   `json:"sendMarkdownAsCard" env:"FEISHU_SEND_MARKDOWN_AS_CARD"`
}

type FeishuCreds struct {
	AppID     string `json:"appId"`
	AppSecret string `json:"appSecret"`
}

type WeComConfig struct {
	ChannelConfig
	WebhookPath    string `json:"webhookPath" env:"WECOM_WEBHOOK_PATH"`
	Token          string `json:"token" env:"WECOM_TOKEN"`
	EncodingAESKey string `json:"encodingAESKey" env:"WECOM_ENCODING_AES_KEY"`
}

type WeComCreds struct {
	Token          string `json:"token"`
	EncodingAESKey string `json:"encodingAESKey"`
}

type VoiceTranscodeConfig struct {
	Enabled bool   `json:"enabled" env:"VOICE_TRANSCODE_ENABLED"`
	Prefer  string `json:"prefer" env:"VOICE_TRANSCODE_PREFER"`
}

type InboundMediaConfig struct {
	Enabled  bool   `json:"enabled" env:"INBOUND_MEDIA_ENABLED"`
	Dir      string `json:"dir" env:"INBOUND_MEDIA_DIR"`
	MaxBytes int64  `json:"maxBytes" env:"INBOUND_MEDIA_MAX_BYTES"`
	KeepDays int    `json:"keepDays" env:"INBOUND_MEDIA_KEEP_DAYS"`
}

type WeComAppConfig struct {
	ChannelConfig
	CorpID         string               `json:"corpId" env:"WECOM_APP_CORP_ID"`
	CorpSecret     string               `json:"corpSecret" env:"WECOM_APP_CORP_SECRET"`
	AgentID        int                  `json:"agentId" env:"WECOM_APP_AGENT_ID"`
	Token          string               `json:"token" env:"WECOM_APP_TOKEN"`
	EncodingAESKey string               `json:"encodingAESKey" env:"WECOM_APP_ENCODING_AES_KEY"`
	InboundMedia   InboundMediaConfig   `json:"inboundMedia"`
	VoiceTranscode VoiceTranscodeConfig `json:"voiceTranscode"`
}

type WeComAppCreds struct {
	CorpID         string `json:"corpId"`
	CorpSecret     string `json:"corpSecret"`
	AgentID        int    `json:"agentId"`
	Token          string `json:"token"`
	EncodingAESKey string `json:"encodingAESKey"`
}

type QQASRConfig struct {
	Enabled   bool   `json:"enabled" env:"QQ_ASR_ENABLED"`
	AppID     string `json:"appId" env:"QQ_ASR_APP_ID"`
	SecretID  string `json:"secretId" env:"QQ_ASR_SECRET_ID"`
	SecretKey string `json:"secretKey" env:"QQ_ASR_SECRET_KEY"`
}

type QQConfig struct {
	ChannelConfig
	AppID           string      `json:"appId" env:"QQ_APP_ID"`
	ClientSecret    string      `json:"clientSecret" env:"QQ_CLIENT_SECRET"`
	MarkdownSupport bool        `json:"markdownSupport" env:"QQ_MARKDOWN_SUPPORT"`
	ASR             QQASRConfig `json:"asr"`
}

type QQCreds struct {
	AppID        string `json:"appId"`
	ClientSecret string `json:"clientSecret"`
}

// ChannelsConfig is the root channels.* block.
type ChannelsConfig struct {
	DingTalk DingTalkConfig `json:"dingtalk"`
	Feishu   FeishuConfig   `json:"feishu"`
	WeCom    WeComConfig    `json:"wecom"`
	WeComApp WeComAppConfig `json:"wecomApp"`
	QQ       QQConfig       `json:"qq"`
}

// Config is the root configuration document, loaded by the Host and passed
// into the core at plug-in construction time.
type Config struct {
	Channels ChannelsConfig `json:"channels"`
}
