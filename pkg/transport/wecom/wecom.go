// Package wecom implements the WeCom AI Robot HTTPS webhook transport of
// §4.F: signature verification, AES decryption, and the out-of-band
// streaming-response-URL path for replies that exceed the 5s callback
// budget. Grounded on the pack's wecom/aibot.go.
package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw-china/gatewaycore/pkg/crypto/wecom"
	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/openclaw-china/gatewaycore/pkg/logger"
)

type InboundHandler func(ctx context.Context, env envelope.InboundEnvelope, stream *StreamTask)

// StreamTask tracks one in-flight AI-bot question awaiting a streamed
// answer, per the webhook's 5s-budget/response-URL handoff.
type StreamTask struct {
	ChatID      string
	ResponseURL string
	CreatedAt   time.Time

	mu       sync.Mutex
	finished bool
}

const responseURLTimeout = 15 * time.Second

// SendViaResponseURL posts a reply through the response URL handed to the
// bot at inbound time, used when the Host's reply exceeds the 5s window.
func (s *StreamTask) SendViaResponseURL(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, responseURLTimeout)
	defer cancel()

	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": content,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode response url payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ResponseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build response url request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send via response url: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (s *StreamTask) Finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

// Transport is the WeCom AI Robot webhook account.
type Transport struct {
	accountID      string
	token          string
	aesKey         []byte
	path           string
	onMessage      InboundHandler

	tasks sync.Map // streamId -> *StreamTask
}

func New(accountID, token, encodingAESKey, path string, onMessage InboundHandler) (*Transport, error) {
	key, err := wecom.DecodeAESKey(encodingAESKey)
	if err != nil {
		return nil, fmt.Errorf("wecom account %s: %w", accountID, err)
	}
	return &Transport{
		accountID: accountID,
		token:     token,
		aesKey:    key,
		path:      path,
		onMessage: onMessage,
	}, nil
}

func (t *Transport) Path() string { return t.path }

// HandleVerification answers the platform's URL-verification GET: verify
// the signature, decrypt `echostr`, and echo its decrypted content back.
func (t *Transport) HandleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msgSignature := q.Get("msg_signature")
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")
	echostr := q.Get("echostr")

	if !wecom.VerifySignature(t.token, timestamp, nonce, echostr, msgSignature) {
		http.Error(w, "signature mismatch", http.StatusBadRequest)
		return
	}
	plain, err := wecom.Decrypt(t.aesKey, echostr, "")
	if err != nil {
		http.Error(w, "decrypt failed", http.StatusBadRequest)
		return
	}
	w.Write(plain)
}

type wecomCallbackPayload struct {
	MsgType     string `json:"msgtype"`
	ChatID      string `json:"chatid"`
	From        struct {
		UserID string `json:"userid"`
	} `json:"from"`
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
	StreamID    string `json:"stream_id"`
	ResponseURL string `json:"response_url"`
}

// HandleWebhook verifies the signature, decrypts the JSON payload,
// normalizes it, and invokes onMessage. It responds within the platform's
// 5s window with an empty stream acknowledgement.
func (t *Transport) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msgSignature := q.Get("msg_signature")
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	encrypt := extractEncryptField(body)

	if !wecom.VerifySignature(t.token, timestamp, nonce, encrypt, msgSignature) {
		err := envelope.NewKindError(envelope.ErrKindSignatureMismatch, fmt.Errorf("msg_signature mismatch"))
		logger.WarnCF("wecom", "webhook rejected", map[string]any{"account": t.accountID, "error": err.Error()})
		http.Error(w, "signature mismatch", http.StatusBadRequest)
		return
	}

	plain, err := wecom.Decrypt(t.aesKey, encrypt, "")
	if err != nil {
		kerr := envelope.NewKindError(envelope.ErrKindDecryptBadPadding, err)
		logger.WarnCF("wecom", "decrypt failed", map[string]any{"account": t.accountID, "error": kerr.Error()})
		http.Error(w, "decrypt failed", http.StatusBadRequest)
		return
	}

	var payload wecomCallbackPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	if payload.MsgType != "text" || payload.Text.Content == "" {
		w.Write([]byte(`{"stream":""}`))
		return
	}

	streamID := payload.StreamID
	if streamID == "" {
		streamID = uuid.NewString()
	}
	task := &StreamTask{ChatID: payload.ChatID, ResponseURL: payload.ResponseURL, CreatedAt: time.Now()}
	t.tasks.Store(streamID, task)

	env := envelope.InboundEnvelope{
		MessageID: streamID,
		Timestamp: time.Now(),
		ChatType:  envelope.ChatGroup,
		SenderID:  payload.From.UserID,
		PeerID:    payload.ChatID,
		Body:      payload.Text.Content,
		RawBody:   payload.Text.Content,
		Channel:   "wecom",
		AccountID: t.accountID,
	}
	if payload.ChatID == "" {
		env.ChatType = envelope.ChatDirect
		env.PeerID = payload.From.UserID
	}

	go t.onMessage(context.WithoutCancel(r.Context()), env, task)

	w.Write([]byte(`{"stream":""}`))
}

// extractEncryptField pulls the <Encrypt> element out of the raw XML body
// without a full XML unmarshal, mirroring the teacher's lightweight XML
// handling for WeCom callbacks.
func extractEncryptField(body []byte) string {
	start := bytes.Index(body, []byte("<Encrypt><![CDATA["))
	if start < 0 {
		return ""
	}
	start += len("<Encrypt><![CDATA[")
	end := bytes.Index(body[start:], []byte("]]></Encrypt>"))
	if end < 0 {
		return ""
	}
	return string(body[start : start+end])
}

// CleanupOldTasks evicts stream tasks older than maxLifetime. Neither
// lifecycle.Manager nor cmd/gateway calls it.
func (t *Transport) CleanupOldTasks(maxLifetime time.Duration) {
	cutoff := time.Now().Add(-maxLifetime)
	t.tasks.Range(func(k, v any) bool {
		task := v.(*StreamTask)
		if task.CreatedAt.Before(cutoff) {
			t.tasks.Delete(k)
		}
		return true
	})
}
