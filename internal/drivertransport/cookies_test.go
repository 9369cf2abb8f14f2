package drivertransport

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestAttachSendsOnlyCookiesStoredForThatHost(t *testing.T) {
	h := NewCookieHandler()
	h.Store("a.example.com", []*http.Cookie{{Name: "sid", Value: "abc"}})
	h.Store("b.example.com", []*http.Cookie{{Name: "sid", Value: "xyz"}})

	u, _ := url.Parse("http://a.example.com/path")
	req := &http.Request{URL: u, Header: make(http.Header)}
	h.Attach(req)

	got := req.Cookies()
	if len(got) != 1 {
		t.Fatalf("expected exactly one cookie attached, got %d", len(got))
	}
	if got[0].Value != "abc" {
		t.Fatalf("expected sid=abc from a.example.com, got %s=%s", got[0].Name, got[0].Value)
	}
}

func TestSweepRemovesOnlyExpiredCookies(t *testing.T) {
	h := NewCookieHandler()
	h.Store("example.com", []*http.Cookie{
		{Name: "live", Value: "1"},
		{Name: "dead", Value: "2", Expires: time.Now().Add(-time.Hour)},
	})

	h.Sweep()

	if h.Count() != 1 {
		t.Fatalf("expected one cookie to survive Sweep, got %d", h.Count())
	}

	u, _ := url.Parse("http://example.com/")
	req := &http.Request{URL: u, Header: make(http.Header)}
	h.Attach(req)
	if len(req.Cookies()) != 1 || req.Cookies()[0].Name != "live" {
		t.Fatalf("expected only the live cookie to remain attachable")
	}
}

func TestStoreOverwritesSameNameForSameHost(t *testing.T) {
	h := NewCookieHandler()
	h.Store("example.com", []*http.Cookie{{Name: "sid", Value: "first"}})
	h.Store("example.com", []*http.Cookie{{Name: "sid", Value: "second"}})

	if h.Count() != 1 {
		t.Fatalf("expected the second Store to overwrite, not add, got %d cookies", h.Count())
	}
}
