// Package qqbot implements the QQ Open Platform inbound transport of §4.F,
// over botgo's WebSocket session manager with Ed25519-signed webhook
// verification (used for the platform's optional HTTP callback mode
// alongside the websocket gateway). Grounded on the pack's qq/qq.go for the
// event-handler/dedup/send pattern; the Ed25519 verification scheme and the
// voice-attachment field shape (dto.MessageAttachment.ContentType/URL) have
// no grounding file in the retrieval pack and follow the published API
// documentation directly instead (see DESIGN.md).
package qqbot

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tencent-connect/botgo"
	"github.com/tencent-connect/botgo/dto"
	"github.com/tencent-connect/botgo/event"
	"github.com/tencent-connect/botgo/openapi"
	"github.com/tencent-connect/botgo/token"

	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/openclaw-china/gatewaycore/pkg/logger"
	"github.com/openclaw-china/gatewaycore/pkg/media"
	"github.com/openclaw-china/gatewaycore/pkg/normalize"
)

type InboundHandler func(ctx context.Context, env envelope.InboundEnvelope)

const dedupeCap = 10000

const asrFallbackMessage = "抱歉，语音消息识别失败，请用文字重新描述。"

// Transport is the QQ Open Platform bot account.
type Transport struct {
	accountID    string
	appID        string
	clientSecret string
	onMessage    InboundHandler

	api openapi.OpenAPI

	// media and transcriber are both optional: nil media disables attachment
	// download entirely (text-only ingress); nil transcriber downloads and
	// archives voice attachments but skips the ASR fallback of §4.G.
	media       *media.Service
	transcriber normalize.Transcriber

	mu           sync.Mutex
	processedIDs map[string]bool
	running      bool
	cancel       context.CancelFunc

	// chatKindByID remembers whether a chat id was last seen as a C2C or
	// group conversation, so the outbound Sender (which only has a chat id,
	// not the original event) can pick the right send endpoint. Grounded on
	// the teacher's chatKindByID/resolveChatKind.
	chatKindByID map[string]string
}

const (
	chatKindDirect = "direct"
	chatKindGroup  = "group"
)

func New(accountID, appID, clientSecret string, onMessage InboundHandler, mediaSvc *media.Service, transcriber normalize.Transcriber) *Transport {
	return &Transport{
		accountID:    accountID,
		appID:        appID,
		clientSecret: clientSecret,
		onMessage:    onMessage,
		media:        mediaSvc,
		transcriber:  transcriber,
		processedIDs: make(map[string]bool),
		chatKindByID: make(map[string]string),
	}
}

func (t *Transport) Channel() string     { return "qqbot" }
func (t *Transport) AccountID() string   { return t.accountID }
func (t *Transport) Configured() bool    { return t.appID != "" && t.clientSecret != "" }
func (t *Transport) CanSendActive() bool { return t.Configured() }

func (t *Transport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// StartAccount obtains a websocket-access-token source, opens the bot API
// client, and registers handlers for C2C and group-at messages via botgo's
// session manager.
func (t *Transport) StartAccount(ctx context.Context) error {
	if !t.Configured() {
		return fmt.Errorf("qqbot account %s: appId and clientSecret are required", t.accountID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	credentials := &token.QQBotCredentials{AppID: t.appID, ClientSecret: t.clientSecret}
	ts := token.NewQQBotTokenSource(credentials)
	if err := token.StartRefreshAccessToken(runCtx, ts); err != nil {
		cancel()
		return fmt.Errorf("start qq access token refresh: %w", err)
	}

	t.api = botgo.NewOpenAPI(t.appID, ts).WithTimeout(10 * time.Second)

	wsInfo, err := t.api.WS(runCtx, nil, "")
	if err != nil {
		cancel()
		return fmt.Errorf("fetch qq websocket gateway info: %w", err)
	}

	handlers := []event.Handler{
		t.c2cHandler(),
		t.groupATHandler(),
	}
	if err := botgo.NewSessionManager().Start(wsInfo, ts, handlers...); err != nil {
		cancel()
		return fmt.Errorf("start qq session manager: %w", err)
	}

	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	logger.InfoCF("qqbot", "transport started", map[string]any{"account": t.accountID})
	return nil
}

func (t *Transport) StopAccount(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	logger.InfoCF("qqbot", "transport stopped", map[string]any{"account": t.accountID})
	return nil
}

func (t *Transport) seen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processedIDs[id] {
		return true
	}
	if len(t.processedIDs) >= dedupeCap {
		// Best-effort half-clear eviction, mirroring the teacher's dedup cap.
		i := 0
		for k := range t.processedIDs {
			delete(t.processedIDs, k)
			i++
			if i >= dedupeCap/2 {
				break
			}
		}
	}
	t.processedIDs[id] = true
	return false
}

func (t *Transport) c2cHandler() event.C2CMessageEventHandler {
	return func(event *dto.WSPayload, data *dto.WSC2CMessageData) error {
		if t.seen(data.ID) {
			return nil
		}
		ctx := context.Background()

		t.recordChatKind(data.Author.ID, chatKindDirect)

		att, asrAttempted, asrFailed := t.resolveVoiceAttachment(ctx, data.Attachments)
		if asrAttempted && asrFailed {
			t.sendFallback(ctx, false, data.Author.ID)
			return nil
		}

		body, attachments := composeInbound(data.Content, att)
		env := envelope.InboundEnvelope{
			MessageID:   data.ID,
			Timestamp:   time.Now(),
			ChatType:    envelope.ChatDirect,
			SenderID:    data.Author.ID,
			PeerID:      data.Author.ID,
			Body:        body,
			RawBody:     data.Content,
			Attachments: attachments,
			Channel:     "qqbot",
			AccountID:   t.accountID,
		}
		if !env.Valid() {
			return nil
		}
		t.onMessage(ctx, env)
		return nil
	}
}

func (t *Transport) groupATHandler() event.GroupATMessageEventHandler {
	return func(event *dto.WSPayload, data *dto.WSGroupATMessageData) error {
		if t.seen(data.ID) {
			return nil
		}
		ctx := context.Background()

		t.recordChatKind(data.GroupOpenid, chatKindGroup)

		att, asrAttempted, asrFailed := t.resolveVoiceAttachment(ctx, data.Attachments)
		if asrAttempted && asrFailed {
			t.sendFallback(ctx, true, data.GroupOpenid)
			return nil
		}

		body, attachments := composeInbound(data.Content, att)
		env := envelope.InboundEnvelope{
			MessageID:    data.ID,
			Timestamp:    time.Now(),
			ChatType:     envelope.ChatGroup,
			SenderID:     data.Author.MemberOpenid,
			PeerID:       data.GroupOpenid,
			Body:         body,
			RawBody:      data.Content,
			Attachments:  attachments,
			WasMentioned: true, // group-AT events are mention-triggered by definition
			Channel:      "qqbot",
			AccountID:    t.accountID,
		}
		if !env.Valid() {
			return nil
		}
		t.onMessage(ctx, env)
		return nil
	}
}

// composeInbound splices a resolved voice attachment's saved reference (and
// transcript, if any) into the agent-facing body, per §4.G step 3.
func composeInbound(rawContent string, att envelope.Attachment) (body string, attachments []envelope.Attachment) {
	if att.SavedPath == "" {
		return rawContent, nil
	}
	attachments = []envelope.Attachment{att}
	return normalize.ComposeBody(rawContent, attachments), attachments
}

// resolveVoiceAttachment downloads and archives the first audio attachment
// on the message (if any) and, when a transcriber is configured, transcribes
// it within a 30s budget per §4.G's voice ASR fallback. asrAttempted reports
// whether ASR was invoked at all; asrFailed reports whether it was invoked
// but produced no transcript, in which case the caller must emit the
// user-visible fallback and must not dispatch to the agent.
func (t *Transport) resolveVoiceAttachment(ctx context.Context, attachments []*dto.MessageAttachment) (att envelope.Attachment, asrAttempted, asrFailed bool) {
	if t.media == nil {
		return envelope.Attachment{}, false, false
	}
	for _, a := range attachments {
		if a == nil || !strings.HasPrefix(a.ContentType, "audio") {
			continue
		}
		tempPath, err := t.media.Download(ctx, media.DownloadOptions{URL: a.URL, Prefix: "voice"})
		if err != nil {
			if errors.Is(err, media.ErrSizeLimit) {
				err = envelope.NewKindError(envelope.ErrKindSizeLimit, err)
			}
			logger.WarnCF("qqbot", "voice download failed", map[string]any{"account": t.accountID, "error": err.Error()})
			return envelope.Attachment{}, false, false
		}
		savedPath, err := t.media.Archive(tempPath)
		if err != nil {
			logger.WarnCF("qqbot", "voice archive failed", map[string]any{"account": t.accountID, "error": err.Error()})
			savedPath = tempPath
		}
		att = envelope.Attachment{Source: envelope.SourceVoice, SavedPath: savedPath}
		if t.transcriber == nil {
			return att, false, false
		}

		asrCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		filled := normalize.TranscribeVoice(asrCtx, t.transcriber, []envelope.Attachment{att})
		cancel()
		att = filled[0]
		return att, true, att.Transcript == ""
	}
	return envelope.Attachment{}, false, false
}

// recordChatKind remembers whether chatID was last seen as a direct or group
// conversation, grounded on the teacher's recordInboundMessage.
func (t *Transport) recordChatKind(chatID, kind string) {
	if chatID == "" {
		return
	}
	t.mu.Lock()
	t.chatKindByID[chatID] = kind
	t.mu.Unlock()
}

func (t *Transport) resolveChatKind(chatID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if kind := t.chatKindByID[chatID]; kind != "" {
		return kind
	}
	return chatKindDirect
}

// qqMessageToCreate is the minimal text-send request body, grounded on the
// teacher's qqC2CMessageToCreate (same shape is accepted by both the C2C and
// group-message endpoints).
type qqMessageToCreate struct {
	Content string `json:"content,omitempty"`
	MsgType int    `json:"msg_type"`
}

func (m qqMessageToCreate) GetEventID() string       { return "" }
func (m qqMessageToCreate) GetSendType() dto.SendType { return dto.Text }

// SendText implements the outbound.Sender contract: route to the C2C or
// group-message endpoint based on the chat kind last observed inbound for
// this chatID, grounded on the teacher's QQChannel.Send/resolveChatKind.
func (t *Transport) SendText(ctx context.Context, chatID, text string) error {
	if t.api == nil {
		return fmt.Errorf("qqbot account %s: transport not started", t.accountID)
	}
	msg := qqMessageToCreate{Content: text, MsgType: int(dto.TextMsg)}
	var err error
	if t.resolveChatKind(chatID) == chatKindGroup {
		_, err = t.api.PostGroupMessage(ctx, chatID, msg)
	} else {
		_, err = t.api.PostC2CMessage(ctx, chatID, msg)
	}
	return err
}

// sendFallback sends the ASR-failure notice directly back to the peer,
// bypassing the agent dispatch per §4.G.
func (t *Transport) sendFallback(ctx context.Context, group bool, chatID string) {
	if t.api == nil {
		return
	}
	msg := qqMessageToCreate{Content: asrFallbackMessage, MsgType: int(dto.TextMsg)}
	var err error
	if group {
		_, err = t.api.PostGroupMessage(ctx, chatID, msg)
	} else {
		_, err = t.api.PostC2CMessage(ctx, chatID, msg)
	}
	if err != nil {
		logger.WarnCF("qqbot", "send asr-failure fallback", map[string]any{"account": t.accountID, "error": err.Error()})
	}
}

// VerifyWebhookSignature validates the Ed25519 signature QQ's HTTP webhook
// callback mode attaches to each request: signature = Ed25519Sign(seed,
// timestamp + body), verified here against the platform-issued public key.
// No example in the retrieval pack implements QQ's webhook signature
// scheme; this follows the published API documentation directly rather
// than any grounded file (see DESIGN.md).
func VerifyWebhookSignature(timestamp, body []byte, signatureHex, publicKeyHex string) (bool, error) {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid qq bot public key")
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid qq webhook signature encoding")
	}
	msg := append(append([]byte{}, timestamp...), body...)
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}
