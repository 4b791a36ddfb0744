// Package asr implements the Tencent Cloud Flash Recognition transcription
// client §4.G's QQ voice path falls back to when a saved attachment has no
// platform-supplied transcript. No example in the retrieval pack calls
// Tencent Cloud's ASR API or carries its SDK; this client is built directly
// against the published TC3-HMAC-SHA256 signing scheme using the standard
// library rather than a fabricated module dependency (see DESIGN.md).
package asr

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	service = "asr"
	host    = "asr.tencentcloudapi.com"
	version = "2019-06-14"
	action  = "SentenceRecognition"
	region  = "ap-guangzhou"
)

// Client is a Tencent Cloud Flash Recognition (one-shot sentence
// recognition) transcriber, matching the normalize.Transcriber interface.
type Client struct {
	SecretID  string
	SecretKey string
	AppID     string
	HTTP      *http.Client

	// BaseURL overrides the request target; empty means the real API
	// endpoint. Tests point this at an httptest server.
	BaseURL string
}

func NewClient(appID, secretID, secretKey string) *Client {
	return &Client{AppID: appID, SecretID: secretID, SecretKey: secretKey, HTTP: &http.Client{Timeout: 20 * time.Second}}
}

type sentenceRecognitionRequest struct {
	ProjectId   int    `json:"ProjectId"`
	SubServiceType int `json:"SubServiceType"`
	EngSerViceType string `json:"EngSerViceType"`
	SourceType  int    `json:"SourceType"`
	VoiceFormat string `json:"VoiceFormat"`
	Data        string `json:"Data"`
	DataLen     int    `json:"DataLen"`
}

type sentenceRecognitionResponse struct {
	Response struct {
		Result    string `json:"Result"`
		RequestId string `json:"RequestId"`
		Error     *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
	} `json:"Response"`
}

// Transcribe reads audioPath and submits it to SentenceRecognition,
// returning the recognized text. VoiceFormat is inferred from the file
// extension, and the file is submitted as it is: no transcoding happens
// here or in the qqbot caller.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	raw, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("read audio file: %w", err)
	}

	body := sentenceRecognitionRequest{
		ProjectId:      0,
		SubServiceType: 2,
		EngSerViceType: "16k_zh",
		SourceType:     1,
		VoiceFormat:    voiceFormat(audioPath),
		Data:           base64Encode(raw),
		DataLen:        len(raw),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode asr request: %w", err)
	}

	now := time.Now().UTC()
	req, err := c.signedRequest(ctx, payload, now)
	if err != nil {
		return "", err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("call asr: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read asr response: %w", err)
	}
	var parsed sentenceRecognitionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode asr response: %w", err)
	}
	if parsed.Response.Error != nil {
		return "", fmt.Errorf("asr error %s: %s", parsed.Response.Error.Code, parsed.Response.Error.Message)
	}
	return parsed.Response.Result, nil
}

// signedRequest builds the POST request with the TC3-HMAC-SHA256 signature
// Tencent Cloud's API gateway requires on every call.
func (c *Client) signedRequest(ctx context.Context, payload []byte, now time.Time) (*http.Request, error) {
	timestamp := now.Unix()
	date := now.Format("2006-01-02")

	hashedPayload := sha256Hex(payload)
	canonicalHeaders := fmt.Sprintf("content-type:application/json\nhost:%s\n", host)
	signedHeaders := "content-type;host"
	canonicalRequest := strings.Join([]string{
		"POST",
		"/",
		"",
		canonicalHeaders,
		signedHeaders,
		hashedPayload,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/tc3_request", date, service)
	stringToSign := strings.Join([]string{
		"TC3-HMAC-SHA256",
		strconv.FormatInt(timestamp, 10),
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	secretDate := hmacSHA256([]byte("TC3"+c.SecretKey), date)
	secretService := hmacSHA256(secretDate, service)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	authorization := fmt.Sprintf("TC3-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		c.SecretID, credentialScope, signedHeaders, signature)

	url := "https://" + host
	if c.BaseURL != "" {
		url = c.BaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build asr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", host)
	req.Header.Set("X-TC-Action", action)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-TC-Version", version)
	req.Header.Set("X-TC-Region", region)
	req.Header.Set("Authorization", authorization)
	return req, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func voiceFormat(path string) string {
	switch {
	case hasSuffix(path, ".wav"):
		return "wav"
	case hasSuffix(path, ".mp3"):
		return "mp3"
	case hasSuffix(path, ".silk"):
		return "silk"
	case hasSuffix(path, ".amr"):
		return "amr"
	default:
		return "pcm"
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
