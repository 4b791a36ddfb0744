package webhook

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_UnregisterCauses404(t *testing.T) {
	r := NewRegistry()
	r.Register("/wecom-app/alice", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/wecom-app/alice")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r.Unregister("/wecom-app/alice")

	resp2, err := http.Get(srv.URL + "/wecom-app/alice")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestRegistry_ReregisterReplacesHandler(t *testing.T) {
	r := NewRegistry()
	r.Register("/p", func(w http.ResponseWriter, req *http.Request) { w.WriteHeader(201) })
	r.Register("/p", func(w http.ResponseWriter, req *http.Request) { w.WriteHeader(202) })

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/p")
	require.NoError(t, err)
	require.Equal(t, 202, resp.StatusCode)
}
