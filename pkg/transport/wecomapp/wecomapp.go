// Package wecomapp implements the WeCom Self-built Application inbound
// webhook transport and outbound active-send API of §4.F/§4.I. Credential
// refresh shares the same gettoken-style endpoint documented in §6. Inbound
// images are downloaded and archived through pkg/media and spliced into the
// envelope body via pkg/normalize, per §4.G step 3.
package wecomapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/openclaw-china/gatewaycore/pkg/credential"
	"github.com/openclaw-china/gatewaycore/pkg/crypto/wecom"
	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/openclaw-china/gatewaycore/pkg/logger"
	"github.com/openclaw-china/gatewaycore/pkg/media"
	"github.com/openclaw-china/gatewaycore/pkg/normalize"
	"github.com/openclaw-china/gatewaycore/pkg/outbound"
)

type InboundHandler func(ctx context.Context, env envelope.InboundEnvelope)

type credKey struct {
	CorpID  string
	AgentID int
}

// Transport is the WeCom Self-built Application webhook + active-send
// account.
type Transport struct {
	accountID  string
	corpID     string
	corpSecret string
	agentID    int
	token      string
	aesKey     []byte
	path       string
	onMessage  InboundHandler

	// media is optional: a nil Service leaves inbound images as the raw
	// "[image] media:<id>" placeholder instead of a downloaded/archived
	// saved-path reference.
	media *media.Service

	cache  *credential.Cache[credKey]
	client *http.Client
}

func New(accountID, corpID, corpSecret string, agentID int, token, encodingAESKey, path string, onMessage InboundHandler, mediaSvc *media.Service) (*Transport, error) {
	key, err := wecom.DecodeAESKey(encodingAESKey)
	if err != nil {
		return nil, fmt.Errorf("wecom-app account %s: %w", accountID, err)
	}
	return &Transport{
		accountID:  accountID,
		corpID:     corpID,
		corpSecret: corpSecret,
		agentID:    agentID,
		token:      token,
		aesKey:     key,
		path:       path,
		onMessage:  onMessage,
		media:      mediaSvc,
		cache:      credential.NewCache[credKey](),
		client:     &http.Client{},
	}, nil
}

func (t *Transport) Path() string { return t.path }

type getTokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken returns a cached (or freshly issued) access token, per
// §4.B / §6's GET /cgi-bin/gettoken.
func (t *Transport) AccessToken(ctx context.Context) (string, error) {
	key := credKey{CorpID: t.corpID, AgentID: t.agentID}
	tok, err := t.cache.Fetch(ctx, key, func(ctx context.Context) (string, int, error) {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		url := fmt.Sprintf("https://qyapi.weixin.qq.com/cgi-bin/gettoken?corpid=%s&corpsecret=%s", t.corpID, t.corpSecret)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", 0, err
		}
		resp, err := t.client.Do(req)
		if err != nil {
			return "", 0, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", 0, err
		}
		var parsed getTokenResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", 0, err
		}
		if parsed.ErrCode != 0 {
			return "", 0, fmt.Errorf("gettoken failed: %d %s", parsed.ErrCode, parsed.ErrMsg)
		}
		return parsed.AccessToken, parsed.ExpiresIn, nil
	})
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

type xmlCallback struct {
	ToUserName   string
	FromUserName string
	MsgType      string
	Content      string
	MediaId      string
	MsgId        string
}

// HandleWebhook verifies the signature, decrypts the XML payload, extracts
// the minimal field set used by the normalizer, and invokes onMessage.
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
		logger.WarnCF("wecom-app", "webhook rejected", map[string]any{"account": t.accountID, "error": err.Error()})
		http.Error(w, "signature mismatch", http.StatusBadRequest)
		return
	}

	plain, err := wecom.Decrypt(t.aesKey, encrypt, t.corpID)
	if err != nil {
		kerr := envelope.NewKindError(envelope.ErrKindDecryptBadPadding, err)
		logger.WarnCF("wecom-app", "decrypt failed", map[string]any{"account": t.accountID, "error": kerr.Error()})
		http.Error(w, "decrypt failed", http.StatusBadRequest)
		return
	}

	cb := parseXML(plain)
	if cb.MsgType != "text" && cb.MsgType != "image" {
		w.Write([]byte("success"))
		return
	}

	ctx := r.Context()
	body := cb.Content
	var attachments []envelope.Attachment
	if cb.MsgType == "image" {
		att := t.downloadImage(ctx, cb.MediaId)
		if att.SavedPath == "" {
			body = fmt.Sprintf("[image] media:%s", cb.MediaId)
		} else {
			attachments = []envelope.Attachment{att}
			body = normalize.ComposeBody(cb.Content, attachments)
		}
	}

	env := envelope.InboundEnvelope{
		MessageID:   cb.MsgId,
		Timestamp:   time.Now(),
		ChatType:    envelope.ChatDirect,
		SenderID:    cb.FromUserName,
		PeerID:      cb.FromUserName,
		Body:        body,
		RawBody:     cb.Content,
		Attachments: attachments,
		Channel:     "wecom-app",
		AccountID:   t.accountID,
	}

	t.onMessage(ctx, env)
	w.Write([]byte("success"))
}

// downloadImage implements §4.G step 3's image path: download via
// GET /cgi-bin/media/get, archive under the dated inbound directory, and
// return a saved-reference attachment. If media is unconfigured or the
// download fails, it falls back to the raw media-id placeholder so the
// message still dispatches.
func (t *Transport) downloadImage(ctx context.Context, mediaID string) envelope.Attachment {
	if t.media == nil || mediaID == "" {
		return envelope.Attachment{Source: envelope.SourceImage, SavedPath: "", Transcript: ""}
	}

	token, err := t.AccessToken(ctx)
	if err != nil {
		logger.WarnCF("wecom-app", "resolve access token for media download", map[string]any{
			"account": t.accountID, "error": err.Error(),
		})
		return envelope.Attachment{Source: envelope.SourceImage}
	}

	url := fmt.Sprintf("https://qyapi.weixin.qq.com/cgi-bin/media/get?access_token=%s&media_id=%s", token, mediaID)
	tempPath, err := t.media.Download(ctx, media.DownloadOptions{URL: url, Prefix: "img"})
	if err != nil {
		if errors.Is(err, media.ErrSizeLimit) {
			err = envelope.NewKindError(envelope.ErrKindSizeLimit, err)
		}
		logger.WarnCF("wecom-app", "download inbound image", map[string]any{
			"account": t.accountID, "error": err.Error(),
		})
		return envelope.Attachment{Source: envelope.SourceImage}
	}

	savedPath, err := t.media.Archive(tempPath)
	if err != nil {
		logger.WarnCF("wecom-app", "archive inbound image", map[string]any{
			"account": t.accountID, "error": err.Error(),
		})
		savedPath = tempPath
	}
	return envelope.Attachment{Source: envelope.SourceImage, SavedPath: savedPath}
}

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

func parseXML(plain []byte) xmlCallback {
	get := func(tag string) string {
		open := "<" + tag + "><![CDATA["
		start := bytes.Index(plain, []byte(open))
		if start < 0 {
			return ""
		}
		start += len(open)
		end := bytes.Index(plain[start:], []byte("]]></"+tag+">"))
		if end < 0 {
			return ""
		}
		return string(plain[start : start+end])
	}
	return xmlCallback{
		ToUserName:   get("ToUserName"),
		FromUserName: get("FromUserName"),
		MsgType:      get("MsgType"),
		Content:      get("Content"),
		MediaId:      get("MediaId"),
		MsgId:        get("MsgId"),
	}
}

// sendRequest is the body shape for POST /cgi-bin/message/send.
type sendRequest struct {
	ToUser   string         `json:"touser"`
	MsgType  string         `json:"msgtype"`
	AgentID  int            `json:"agentid"`
	Text     map[string]any `json:"text,omitempty"`
	Image    map[string]any `json:"image,omitempty"`
	Voice    map[string]any `json:"voice,omitempty"`
	File     map[string]any `json:"file,omitempty"`
	Markdown map[string]any `json:"markdown,omitempty"`
}

type sendResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// SendText implements the active-send API for plain text messages.
func (t *Transport) SendText(ctx context.Context, to, text string) error {
	return t.send(ctx, sendRequest{ToUser: to, MsgType: "text", AgentID: t.agentID, Text: map[string]any{"content": text}})
}

// SendMedia implements the active-send API for image/voice/file messages,
// where mediaID is a platform media id previously obtained via upload.
func (t *Transport) SendMedia(ctx context.Context, to, kind, mediaID string) error {
	req := sendRequest{ToUser: to, MsgType: kind, AgentID: t.agentID}
	switch kind {
	case "image":
		req.Image = map[string]any{"media_id": mediaID}
	case "voice":
		req.Voice = map[string]any{"media_id": mediaID}
	case "file":
		req.File = map[string]any{"media_id": mediaID}
	default:
		return fmt.Errorf("unsupported media kind %q", kind)
	}
	return t.send(ctx, req)
}

// UploadAndSendMedia implements the outbound.Sender.SendMedia contract:
// upload a local file via POST /cgi-bin/media/upload (§4.D's Upload step),
// then deliver it by the returned media_id through the active-send API.
func (t *Transport) UploadAndSendMedia(ctx context.Context, to string, kind outbound.MediaKind, filePath, caption string) error {
	if t.media == nil {
		return fmt.Errorf("wecom-app account %s: media service not configured", t.accountID)
	}
	token, err := t.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("resolve access token: %w", err)
	}
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read media file: %w", err)
	}

	wecomKind := mediaKindString(kind)
	endpoint := fmt.Sprintf("https://qyapi.weixin.qq.com/cgi-bin/media/upload?type=%s", wecomKind)
	mediaID, err := t.media.Upload(ctx, media.UploadOptions{
		Endpoint:    endpoint,
		AccessToken: token,
		Filename:    filepath.Base(filePath),
		Content:     content,
	})
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}
	return t.SendMedia(ctx, to, wecomKind, mediaID)
}

func mediaKindString(kind outbound.MediaKind) string {
	switch kind {
	case outbound.MediaVoice:
		return "voice"
	case outbound.MediaFile:
		return "file"
	default:
		return "image"
	}
}

func (t *Transport) send(ctx context.Context, req sendRequest) error {
	token, err := t.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("resolve access token: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	url := fmt.Sprintf("https://qyapi.weixin.qq.com/cgi-bin/message/send?access_token=%s", token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read send response: %w", err)
	}
	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("decode send response: %w", err)
	}
	if parsed.ErrCode == 40014 || parsed.ErrCode == 42001 {
		t.cache.Invalidate(credKey{CorpID: t.corpID, AgentID: t.agentID})
	}
	if parsed.ErrCode != 0 {
		return fmt.Errorf("send failed: %d %s", parsed.ErrCode, parsed.ErrMsg)
	}
	return nil
}
