package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type key struct {
	CorpID  string
	AgentID string
}

func TestFetch_CachesUntilExpiry(t *testing.T) {
	c := NewCache[key]()
	calls := 0
	issue := func(ctx context.Context) (string, int, error) {
		calls++
		return "tok1", 7200, nil
	}

	k := key{CorpID: "corp1", AgentID: "1"}
	tok, err := c.Fetch(context.Background(), k, issue)
	require.NoError(t, err)
	require.Equal(t, "tok1", tok.Token)

	tok2, err := c.Fetch(context.Background(), k, issue)
	require.NoError(t, err)
	require.Equal(t, tok, tok2)
	require.Equal(t, 1, calls)
}

func TestFetch_TTLNeverExceedsPlatformMinusSafetyMargin(t *testing.T) {
	c := NewCache[key]()
	issue := func(ctx context.Context) (string, int, error) {
		return "tok", 7200, nil
	}
	k := key{CorpID: "c", AgentID: "1"}
	tok, err := c.Fetch(context.Background(), k, issue)
	require.NoError(t, err)
	require.False(t, tok.ExpiresAt.After(time.Now().Add(7200*time.Second-5*time.Minute)))
	require.True(t, tok.Valid(tok.ExpiresAt.Add(-1)))
	require.False(t, tok.Valid(tok.ExpiresAt))
}

func TestInvalidate_ForcesReissue(t *testing.T) {
	c := NewCache[key]()
	calls := 0
	issue := func(ctx context.Context) (string, int, error) {
		calls++
		return "tok", 7200, nil
	}
	k := key{CorpID: "c", AgentID: "1"}
	_, _ = c.Fetch(context.Background(), k, issue)
	c.Invalidate(k)
	_, _ = c.Fetch(context.Background(), k, issue)
	require.Equal(t, 2, calls)
}

func TestFetchWithRetry_RetriesOnceOnRejection(t *testing.T) {
	c := NewCache[key]()
	calls := 0
	issue := func(ctx context.Context) (string, int, error) {
		calls++
		return "tok", 7200, nil
	}
	k := key{CorpID: "c", AgentID: "1"}
	first := true
	rejected := func(tok AccessToken) bool {
		if first {
			first = false
			return true
		}
		return false
	}
	tok, err := c.FetchWithRetry(context.Background(), k, issue, rejected)
	require.NoError(t, err)
	require.Equal(t, "tok", tok.Token)
	require.Equal(t, 2, calls)
}
