// Package webhook implements the shared HTTP route-registration facility
// used by the HTTPS-webhook transports (WeCom, WeCom-App), per §4.F. QQ
// receives over botgo's WebSocket session and registers no route here.
package webhook

import (
	"net/http"
	"sync"
)

// Registry hands each plug-in account a (path, handler) slot on a shared
// mux (any HTTP method reaches the handler) and lets the account's
// StopAccount unregister it so a subsequent
// callback on that path 404s, per §8 scenario 6.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]http.HandlerFunc
	mux    *http.ServeMux
}

func NewRegistry() *Registry {
	r := &Registry{routes: make(map[string]http.HandlerFunc), mux: http.NewServeMux()}
	return r
}

// Register installs handler at path. Re-registering the same path replaces
// the handler (used on config reload).
func (r *Registry) Register(path string, handler http.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[path]; !exists {
		r.mux.HandleFunc(path, r.dispatch(path))
	}
	r.routes[path] = handler
}

// Unregister removes path; subsequent requests to it 404.
func (r *Registry) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, path)
}

func (r *Registry) dispatch(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.RLock()
		handler, ok := r.routes[path]
		r.mu.RUnlock()
		if !ok {
			http.NotFound(w, req)
			return
		}
		handler(w, req)
	}
}

func (r *Registry) Handler() http.Handler { return r.mux }
