package goSession

import (
	"net/http"
	"strings"
	"sync"
)

const bearerPrefix = "Bearer "

// defaultHeaders is the shared header set applied to every outgoing request.
// Only SessionStore writes the Authorization entry.
type defaultHeaders struct {
	mu     sync.RWMutex
	header http.Header
}

func newDefaultHeaders() *defaultHeaders {
	return &defaultHeaders{header: make(http.Header)}
}

func (h *defaultHeaders) setAuthorization(access string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if access == "" {
		h.header.Del("Authorization")
		return
	}
	h.header.Set("Authorization", bearerPrefix+access)
}

func (h *defaultHeaders) set(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.header.Set(key, value)
}

// authorization returns the current bearer credential, or "".
func (h *defaultHeaders) authorization() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	token, _ := bearerToken(h.header.Get("Authorization"))
	return token
}

// apply copies defaults into req without overriding headers the caller set.
func (h *defaultHeaders) apply(req *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, vs := range h.header {
		if _, ok := req.Header[k]; ok {
			continue
		}
		req.Header[k] = append([]string(nil), vs...)
	}
}

func bearerToken(value string) (string, bool) {
	if len(value) < len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}

	token := value[len(bearerPrefix):]
	if token == "" {
		return "", false
	}

	return token, true
}
