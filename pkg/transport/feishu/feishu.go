// Package feishu implements the Feishu/Lark inbound transport of §4.F: the
// vendor's WebSocket long-connection, handling the platform's
// challenge/url_verification handshake internally via the SDK dispatcher.
// Grounded on the pack's feishu_64.go long-connection channel.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/openclaw-china/gatewaycore/pkg/logger"
	"github.com/openclaw-china/gatewaycore/pkg/outbound"
)

type InboundHandler func(ctx context.Context, env envelope.InboundEnvelope)

// Transport is the Feishu long-connection ingress/egress account.
type Transport struct {
	accountID          string
	appID, appSecret   string
	verificationToken  string
	encryptKey         string
	onMessage          InboundHandler

	lark   *lark.Client
	wsCli  *larkws.Client
	cancel context.CancelFunc

	mu      sync.RWMutex
	running bool
}

func New(accountID, appID, appSecret, verificationToken, encryptKey string, onMessage InboundHandler) *Transport {
	return &Transport{
		accountID:         accountID,
		appID:             appID,
		appSecret:         appSecret,
		verificationToken: verificationToken,
		encryptKey:        encryptKey,
		onMessage:         onMessage,
		lark:              lark.NewClient(appID, appSecret),
	}
}

func (t *Transport) Channel() string     { return "feishu" }
func (t *Transport) AccountID() string   { return t.accountID }
func (t *Transport) Configured() bool    { return t.appID != "" && t.appSecret != "" }
func (t *Transport) CanSendActive() bool { return t.Configured() }

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

// StartAccount opens the long-connection and registers a handler for the
// im.message.receive_v1 event (OnP2MessageReceiveV1) only.
func (t *Transport) StartAccount(ctx context.Context) error {
	if !t.Configured() {
		return fmt.Errorf("feishu account %s: appId and appSecret are required", t.accountID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	dispatcher := larkdispatcher.NewEventDispatcher(t.verificationToken, t.encryptKey).
		OnP2MessageReceiveV1(t.handleMessageV1)

	t.wsCli = larkws.NewClient(t.appID, t.appSecret, larkws.WithEventHandler(dispatcher))

	go func() {
		if err := t.wsCli.Start(runCtx); err != nil {
			logger.ErrorCF("feishu", "long-connection terminated", map[string]any{
				"account": t.accountID, "error": err.Error(),
			})
			t.setRunning(false)
		}
	}()

	t.setRunning(true)
	logger.InfoCF("feishu", "transport started", map[string]any{"account": t.accountID})
	return nil
}

func (t *Transport) StopAccount(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	t.setRunning(false)
	logger.InfoCF("feishu", "transport stopped", map[string]any{"account": t.accountID})
	return nil
}

func (t *Transport) handleMessageV1(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	msg := event.Event.Message

	content := extractTextContent(msg.Content)
	if content == "" {
		return nil
	}

	chatType := envelope.ChatDirect
	if msg.ChatType != nil && *msg.ChatType == "group" {
		chatType = envelope.ChatGroup
	}

	senderID := ""
	if event.Event.Sender != nil && event.Event.Sender.SenderId != nil && event.Event.Sender.SenderId.OpenId != nil {
		senderID = *event.Event.Sender.SenderId.OpenId
	}

	peerID := senderID
	if chatType == envelope.ChatGroup && msg.ChatId != nil {
		peerID = *msg.ChatId
	}

	wasMentioned := len(msg.Mentions) > 0

	messageID := ""
	if msg.MessageId != nil {
		messageID = *msg.MessageId
	}

	env := envelope.InboundEnvelope{
		MessageID:    messageID,
		Timestamp:    time.Now(),
		ChatType:     chatType,
		SenderID:     senderID,
		PeerID:       peerID,
		Body:         content,
		RawBody:      content,
		WasMentioned: wasMentioned,
		Channel:      "feishu",
		AccountID:    t.accountID,
	}
	if !env.Valid() {
		return nil
	}

	t.onMessage(ctx, env)
	return nil
}

// extractTextContent pulls the plain text field out of Feishu's JSON
// message content envelope for text messages (`{"text":"..."}`);
// other content, such as rich-text/post, yields "" and the message is
// dropped by handleMessageV1.
func extractTextContent(raw string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return ""
	}
	return parsed.Text
}

func (t *Transport) Client() *lark.Client { return t.lark }

// SendText implements the outbound text-send API via Im.V1.Message.Create,
// grounded on the teacher's sendFeishuTextMessage.
func (t *Transport) SendText(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal feishu text content: %w", err)
	}
	return t.sendMessage(ctx, chatID, larkim.MsgTypeText, string(payload))
}

// SendMedia implements the outbound image-send API: upload via
// Im.V1.Image.Create, then send an image message referencing the returned
// image_key. Grounded on the teacher's uploadFeishuImage/sendFeishuImageMessage.
func (t *Transport) SendMedia(ctx context.Context, chatID string, kind outbound.MediaKind, filePath, caption string) error {
	if kind != outbound.MediaImage {
		return fmt.Errorf("feishu: unsupported media kind %q", kind)
	}
	imageKey, err := t.uploadImage(ctx, filePath)
	if err != nil {
		return fmt.Errorf("upload feishu image: %w", err)
	}
	payload, err := json.Marshal(map[string]string{"image_key": imageKey})
	if err != nil {
		return fmt.Errorf("marshal feishu image content: %w", err)
	}
	return t.sendMessage(ctx, chatID, larkim.MsgTypeImage, string(payload))
}

func (t *Transport) uploadImage(ctx context.Context, imagePath string) (string, error) {
	body, err := larkim.NewCreateImagePathReqBodyBuilder().
		ImageType("message").
		ImagePath(imagePath).
		Build()
	if err != nil {
		return "", fmt.Errorf("read image file: %w", err)
	}
	req := larkim.NewCreateImageReqBuilder().Body(body).Build()
	resp, err := t.lark.Im.V1.Image.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("feishu image api error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return *resp.Data.ImageKey, nil
}

func (t *Transport) sendMessage(ctx context.Context, chatID, msgType, content string) error {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Uuid(fmt.Sprintf("gatewaycore-%d", time.Now().UnixNano())).
			Build()).
		Build()

	resp, err := t.lark.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send feishu message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("feishu api error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}
