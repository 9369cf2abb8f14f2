package drivertransport

import (
	"net/http"
	"sync"
	"time"
)

// CookieHandler stores cookies captured from responses, keyed by the
// domain that set them and then by cookie name, and attaches the
// applicable ones to outgoing requests for the same domain.
//
// This re-expresses ThreadCookieHandler.java's CookieStore/
// DomainCookieStore/NameCookieStore nesting (version -> domain -> name)
// flattened by one level: this harness has no RFC 2965 cookie2/version
// negotiation to track, so the outer version tier drops out and domain ->
// name is all that's left. Expiry sweeping is kept as an explicit,
// separately-invoked method rather than folded into Attach, mirroring the
// original's separate collect-garbage pass over cookieStore.values()
// rather than pruning mid-lookup.
type CookieHandler struct {
	mu     sync.Mutex
	byHost map[string]map[string]*http.Cookie
}

// NewCookieHandler builds an empty CookieHandler.
func NewCookieHandler() *CookieHandler {
	return &CookieHandler{byHost: make(map[string]map[string]*http.Cookie)}
}

// Store records cookies as having been set by host, overwriting any
// earlier cookie of the same name for that host.
func (h *CookieHandler) Store(host string, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	byName, ok := h.byHost[host]
	if !ok {
		byName = make(map[string]*http.Cookie)
		h.byHost[host] = byName
	}
	for _, c := range cookies {
		byName[c.Name] = c
	}
}

// Attach sets req's Cookie header from whatever this handler holds for
// req's host, in the shape the teacher's CookieStore.select built up:
// one cookie pair per stored name, host-qualified, nothing else touched.
func (h *CookieHandler) Attach(req *http.Request) {
	h.mu.Lock()
	byName, ok := h.byHost[req.URL.Host]
	if !ok {
		h.mu.Unlock()
		return
	}
	applicable := make([]*http.Cookie, 0, len(byName))
	for _, c := range byName {
		applicable = append(applicable, c)
	}
	h.mu.Unlock()

	for _, c := range applicable {
		req.AddCookie(c)
	}
}

// Sweep removes every cookie past its Expires time. Run periodically
// (HTTPTransport.StartSweeping) rather than on every Attach, so a
// lookup never pays for pruning the whole store.
func (h *CookieHandler) Sweep() {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	for host, byName := range h.byHost {
		for name, c := range byName {
			if !c.Expires.IsZero() && c.Expires.Before(now) {
				delete(byName, name)
			}
		}
		if len(byName) == 0 {
			delete(h.byHost, host)
		}
	}
}

// Count reports how many live cookies this handler holds, across every
// host, for tests and diagnostics.
func (h *CookieHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, byName := range h.byHost {
		n += len(byName)
	}
	return n
}
