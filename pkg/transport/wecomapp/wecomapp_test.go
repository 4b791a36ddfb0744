package wecomapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/openclaw-china/gatewaycore/pkg/media"
	"github.com/stretchr/testify/require"
)

const testAESKey = "jWmYm7qr5nMoAUwZRjGtBxmz3KA1tkAj3ykkR6q2B2C"

func newTestTransport(t *testing.T, onMessage InboundHandler) *Transport {
	t.Helper()
	tr, err := New("default", "corp1", "secret1", 1000001, "mytoken", testAESKey, "/wecom-app", onMessage, nil)
	require.NoError(t, err)
	return tr
}

func TestHandleWebhook_InvalidSignatureRejected(t *testing.T) {
	called := false
	tr := newTestTransport(t, func(ctx context.Context, env envelope.InboundEnvelope) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/wecom-app?msg_signature=bad&timestamp=1&nonce=n", nil)
	rec := httptest.NewRecorder()
	tr.HandleWebhook(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, called)
}

// redirectTransport rewrites every request to target instead of its original
// host, letting tests exercise code with hardcoded qyapi.weixin.qq.com URLs
// against a local httptest server.
type redirectTransport struct {
	target string
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	newURL := rt.target + "?" + req.URL.RawQuery
	parsed, err := http.NewRequest(req.Method, newURL, req.Body)
	if err != nil {
		return nil, err
	}
	clone.URL = parsed.URL
	clone.Host = parsed.URL.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func TestDownloadImage_ArchivesAndReturnsAttachment(t *testing.T) {
	dir := t.TempDir()
	mediaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "gettoken") {
			w.Write([]byte(`{"errcode":0,"errmsg":"ok","access_token":"tok-1","expires_in":7200}`))
			return
		}
		w.Write([]byte("fake-jpeg-bytes"))
	}))
	defer mediaServer.Close()

	svc := media.NewService(dir+"/tmp", dir+"/media")
	svc.Client = &http.Client{Transport: redirectTransport{target: mediaServer.URL}}

	tr, err := New("default", "corp1", "secret1", 1000001, "mytoken", testAESKey, "/wecom-app", nil, svc)
	require.NoError(t, err)
	tr.client = &http.Client{Transport: redirectTransport{target: mediaServer.URL}}

	att := tr.downloadImage(context.Background(), "m1")
	require.Equal(t, envelope.SourceImage, att.Source)
	require.NotEmpty(t, att.SavedPath)
	require.True(t, strings.Contains(att.SavedPath, dir+"/media/inbound/"))
}

func TestDownloadImage_NoMediaServiceReturnsEmpty(t *testing.T) {
	tr, err := New("default", "corp1", "secret1", 1000001, "mytoken", testAESKey, "/wecom-app", nil, nil)
	require.NoError(t, err)
	att := tr.downloadImage(context.Background(), "m1")
	require.Empty(t, att.SavedPath)
}

func TestAccessToken_CachesUntilInvalidated(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"errcode":0,"errmsg":"ok","access_token":"tok-` + string(rune('0'+calls)) + `","expires_in":7200}`))
	}))
	defer server.Close()

	tr, err := New("default", "corp1", "secret1", 1000001, "mytoken", testAESKey, "/wecom-app", nil, nil)
	require.NoError(t, err)

	tr.client = &http.Client{Transport: redirectTransport{target: server.URL}}
	key := credKey{CorpID: "corp1", AgentID: 1000001}

	tok1, err := tr.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok1)

	tok2, err := tr.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok2)
	require.Equal(t, 1, calls, "should not re-issue while cached")

	tr.cache.Invalidate(key)
	tok3, err := tr.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok3)
}
