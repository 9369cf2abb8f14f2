// Package drivertransport is the HTTP collaborator drivers use to reach a
// target system, sitting between a driver's operation body and the raw
// net/http client: it owns AUTO timing around a round trip and per-run
// cookie carry-over, so individual drivers (benchdrivers/httpecho and
// anything modeled on it) don't reimplement either.
//
// Grounded on the teacher's one-client-per-target-system shape
// (sibench/s3_connection.go wraps an s3 client the same way HTTPTransport
// wraps *http.Client) and on original_source's ThreadCookieHandler.java for
// cookie scoping: that type stashed one handler per virtual-user thread via
// an InheritableThreadLocal so every HTTP call on that thread shared state.
// Go has no thread-locals and driver.Context already is the per-thread
// handle, so the same sharing is expressed as one CookieHandler per driver
// instance, attached onto each Context explicitly instead of inherited.
package drivertransport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aasssddd/faban/internal/driver"
)

// Transport is what a driver operation calls to reach its target instead
// of touching an http.Client directly. Do is for AUTO-timed operations:
// it brackets the whole round trip with ctx.RecordTime itself, so an AUTO
// operation needs no RecordTime calls of its own (internal/worker/worker.go's
// validateTiming reports "Transport not called" / "Transport incomplete"
// on an AUTO operation whose timestamps were left unset). RoundTrip is for MANUAL operations
// that bracket their own critical section and only want the HTTP call
// itself, with cookie handling still applied underneath.
type Transport interface {
	Do(ctx *driver.Context, req *http.Request) (*http.Response, error)
	RoundTrip(ctx *driver.Context, req *http.Request) (*http.Response, error)
}

// HTTPTransport is the default Transport, wrapping a plain *http.Client
// and a CookieHandler shared by every thread the owning driver spins up.
type HTTPTransport struct {
	Client  *http.Client
	Cookies *CookieHandler
}

// NewHTTPTransport builds an HTTPTransport over client (a zero-value
// *http.Client is used if nil) with a fresh, empty CookieHandler.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{Client: client, Cookies: NewCookieHandler()}
}

// Do sends req, recording AUTO timing around the full round trip
// including response body availability, and returns the response with
// its body still open for the caller to read and close.
func (t *HTTPTransport) Do(ctx *driver.Context, req *http.Request) (*http.Response, error) {
	t.bindCookieHandler(ctx)
	ctx.RecordTime()
	resp, err := t.send(req)
	ctx.RecordTime()
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// RoundTrip sends req with cookie handling applied but without touching
// ctx's timing state at all, for MANUAL operations.
func (t *HTTPTransport) RoundTrip(ctx *driver.Context, req *http.Request) (*http.Response, error) {
	t.bindCookieHandler(ctx)
	return t.send(req)
}

func (t *HTTPTransport) send(req *http.Request) (*http.Response, error) {
	t.Cookies.Attach(req)

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drivertransport: %s %s failed, %w", req.Method, req.URL, err)
	}

	t.Cookies.Store(req.URL.Host, resp.Cookies())
	return resp, nil
}

// bindCookieHandler attaches this Transport's CookieHandler onto ctx the
// first time the thread uses this Transport, so ctx.CookieHandler() lets
// operation code (or a test) inspect what the transport captured.
func (t *HTTPTransport) bindCookieHandler(ctx *driver.Context) {
	if ctx.CookieHandler() == nil {
		ctx.SetCookieHandler(t.Cookies)
	}
}

// StartSweeping launches a background goroutine that calls t.Cookies.Sweep
// at the given interval, for the lifetime of the process. Drivers whose
// cookies carry expiry (session affinity, auth tokens) should call this
// once from Register; drivers with no expiring cookies can skip it.
func (t *HTTPTransport) StartSweeping(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			t.Cookies.Sweep()
		}
	}()
}
