package wecom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openclaw-china/gatewaycore/pkg/crypto/wecom"
	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/stretchr/testify/require"
)

const testAESKey = "jWmYm7qr5nMoAUwZRjGtBxmz3KA1tkAj3ykkR6q2B2C"

func TestHandleVerification_EchoesDecryptedEchostr(t *testing.T) {
	transport, err := New("default", "mytoken", testAESKey, "/wecom", func(ctx context.Context, env envelope.InboundEnvelope, s *StreamTask) {})
	require.NoError(t, err)

	key, err := wecom.DecodeAESKey(testAESKey)
	require.NoError(t, err)
	encoded, err := wecom.Encrypt(key, []byte("plaintext-echo"), "")
	require.NoError(t, err)

	sig := wecom.ComputeSignature("mytoken", "1700000000", "nonce1", encoded)

	req := httptest.NewRequest(http.MethodGet, "/wecom?msg_signature="+sig+"&timestamp=1700000000&nonce=nonce1&echostr="+urlEscape(encoded), nil)
	rec := httptest.NewRecorder()

	transport.HandleVerification(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "plaintext-echo", rec.Body.String())
}

func urlEscape(s string) string {
	out := ""
	for _, r := range s {
		switch r {
		case '+':
			out += "%2B"
		case '/':
			out += "%2F"
		case '=':
			out += "%3D"
		default:
			out += string(r)
		}
	}
	return out
}

func TestHandleWebhook_InvalidSignatureRejected(t *testing.T) {
	called := false
	transport, err := New("default", "mytoken", testAESKey, "/wecom", func(ctx context.Context, env envelope.InboundEnvelope, s *StreamTask) {
		called = true
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/wecom?msg_signature=bad&timestamp=1&nonce=n", nil)
	rec := httptest.NewRecorder()
	transport.HandleWebhook(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, called)
}
