// Package dingtalk implements the DingTalk inbound transport of §4.F:
// a long-lived Stream SDK connection that owns its own reconnection.
// Grounded on the pack's DingTalk stream-client channel implementations.
package dingtalk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"

	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/openclaw-china/gatewaycore/pkg/logger"
)

// InboundHandler receives a normalized envelope. The session webhook for
// replies is kept on the Transport, not passed to the handler.
type InboundHandler func(ctx context.Context, env envelope.InboundEnvelope)

// Transport is the DingTalk Stream-mode ingress/egress account.
type Transport struct {
	accountID    string
	clientID     string
	clientSecret string
	onMessage    InboundHandler
	groupTrigger string

	streamClient *client.StreamClient
	cancel       context.CancelFunc

	sessionWebhooks sync.Map // peerId -> sessionWebhook

	mu      sync.RWMutex
	running bool
}

func New(accountID, clientID, clientSecret, groupTrigger string, onMessage InboundHandler) *Transport {
	return &Transport{
		accountID:    accountID,
		clientID:     clientID,
		clientSecret: clientSecret,
		groupTrigger: groupTrigger,
		onMessage:    onMessage,
	}
}

func (t *Transport) Channel() string   { return "dingtalk" }
func (t *Transport) AccountID() string { return t.accountID }
func (t *Transport) Configured() bool  { return t.clientID != "" && t.clientSecret != "" }
func (t *Transport) CanSendActive() bool {
	// DingTalk replies only through the session webhook captured per
	// conversation; there is no separate active-send credential here.
	return false
}

func (t *Transport) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

func (t *Transport) setRunning(v bool) {
	t.mu.Lock()
	t.running = v
	t.mu.Unlock()
}

// StartAccount connects the Stream SDK client and registers the chatbot
// callback router.
func (t *Transport) StartAccount(ctx context.Context) error {
	if !t.Configured() {
		return fmt.Errorf("dingtalk account %s: clientId and clientSecret are required", t.accountID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	cred := client.NewAppCredentialConfig(t.clientID, t.clientSecret)
	t.streamClient = client.NewStreamClient(
		client.WithAppCredential(cred),
		client.WithAutoReconnect(true),
	)
	t.streamClient.RegisterChatBotCallbackRouter(t.onChatBotMessageReceived)

	if err := t.streamClient.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start dingtalk stream client: %w", err)
	}

	t.setRunning(true)
	logger.InfoCF("dingtalk", "transport started", map[string]any{"account": t.accountID})
	return nil
}

// StopAccount cancels the task and closes the stream client.
func (t *Transport) StopAccount(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.streamClient != nil {
		t.streamClient.Close()
	}
	t.setRunning(false)
	logger.InfoCF("dingtalk", "transport stopped", map[string]any{"account": t.accountID})
	return nil
}

// SessionWebhook returns the stored session webhook for a peer, used by the
// outbound sender to reply via SendDirectReply.
func (t *Transport) SessionWebhook(peerID string) (string, bool) {
	v, ok := t.sessionWebhooks.Load(peerID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (t *Transport) onChatBotMessageReceived(ctx context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	content := data.Text.Content
	if content == "" {
		return nil, nil
	}

	senderID := data.SenderStaffId
	peerID := senderID
	chatType := envelope.ChatDirect
	wasMentioned := false

	if data.ConversationType != "1" {
		chatType = envelope.ChatGroup
		peerID = data.ConversationId
		wasMentioned = mentioned(data, t.groupTrigger, &content)
	}

	t.sessionWebhooks.Store(peerID, data.SessionWebhook)

	messageID := data.MsgId
	if messageID == "" {
		messageID = fmt.Sprintf("%s_%d", data.ConversationId, time.Now().UnixMilli())
	}

	env := envelope.InboundEnvelope{
		MessageID:    messageID,
		Timestamp:    time.Now(),
		ChatType:     chatType,
		SenderID:     senderID,
		SenderName:   data.SenderNick,
		PeerID:       peerID,
		Body:         content,
		RawBody:      content,
		WasMentioned: wasMentioned,
		Channel:      "dingtalk",
		AccountID:    t.accountID,
	}

	if !env.Valid() {
		return nil, nil
	}

	t.onMessage(ctx, env)
	return nil, nil
}

func mentioned(data *chatbot.BotCallbackDataModel, trigger string, content *string) bool {
	if len(data.AtUsers) > 0 {
		return true
	}
	if trigger != "" && len(*content) >= len(trigger) && (*content)[:len(trigger)] == trigger {
		*content = (*content)[len(trigger):]
		return true
	}
	return false
}

// SendDirectReply sends a markdown reply using the session webhook captured
// from the last inbound message on that conversation.
func SendDirectReply(ctx context.Context, sessionWebhook, title, content string) error {
	replier := chatbot.NewChatbotReplier()
	return replier.SimpleReplyMarkdown(ctx, sessionWebhook, []byte(title), []byte(content))
}

// SendText implements the outbound.Sender contract for accounts whose reply
// needs to reach a peer outside the webhook handler's own request (e.g. a
// retried or out-of-band send); it looks up the most recently captured
// session webhook for chatID and reuses SendDirectReply. Returns an error if
// no webhook has been captured yet for that peer.
func (t *Transport) SendText(ctx context.Context, chatID, text string) error {
	webhook, ok := t.SessionWebhook(chatID)
	if !ok {
		return fmt.Errorf("dingtalk account %s: no session webhook captured for %s", t.accountID, chatID)
	}
	return SendDirectReply(ctx, webhook, "", text)
}
