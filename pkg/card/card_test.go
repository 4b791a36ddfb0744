package card

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Method+" "+req.URL.Path)
	f.mu.Unlock()
	return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
}

func newTestStreamer() (*Streamer, *fakeDoer) {
	doer := &fakeDoer{}
	client := NewClient(doer, func(ctx context.Context) (string, error) { return "tok", nil })
	return NewStreamer(client), doer
}

func TestStreamer_CreateThenFirstStreamPutsInputingFirst(t *testing.T) {
	s, doer := newTestStreamer()
	c, err := s.Create(context.Background(), "track1", "space1", "tpl1")
	require.NoError(t, err)
	require.Equal(t, StateCreated, c.State())

	err = s.Stream(context.Background(), c, "Hi", false)
	require.NoError(t, err)
	require.Equal(t, StateInputing, c.State())

	require.Contains(t, doer.calls, "POST /v1.0/card/instances")
	require.Contains(t, doer.calls, "POST /v1.0/card/instances/deliver")

	// The INPUTING status PUT must precede the streaming PUT.
	var inputingIdx, streamIdx int = -1, -1
	for i, call := range doer.calls {
		if call == "PUT /v1.0/card/instances" && inputingIdx == -1 {
			inputingIdx = i
		}
		if call == "PUT /v1.0/card/streaming" && streamIdx == -1 {
			streamIdx = i
		}
	}
	require.True(t, inputingIdx >= 0 && streamIdx >= 0)
	require.Less(t, inputingIdx, streamIdx)
}

func TestStreamer_FinalizeTransitionsToFinished(t *testing.T) {
	s, _ := newTestStreamer()
	c, err := s.Create(context.Background(), "track2", "space1", "tpl1")
	require.NoError(t, err)

	require.NoError(t, s.Stream(context.Background(), c, "Hi", false))
	require.NoError(t, s.Stream(context.Background(), c, "Hi, there!", true))
	require.Equal(t, StateFinished, c.State())
}

func TestStreamer_StreamAfterFinishedIsNoOp(t *testing.T) {
	s, doer := newTestStreamer()
	c, err := s.Create(context.Background(), "track3", "space1", "tpl1")
	require.NoError(t, err)
	require.NoError(t, s.Stream(context.Background(), c, "final", true))
	require.Equal(t, StateFinished, c.State())

	callsBefore := len(doer.calls)
	require.NoError(t, s.Stream(context.Background(), c, "final", true))
	require.Equal(t, callsBefore, len(doer.calls))
	require.Equal(t, StateFinished, c.State())
}
