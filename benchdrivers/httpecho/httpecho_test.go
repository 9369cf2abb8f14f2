package httpecho

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aasssddd/faban/internal/driver"
	"github.com/aasssddd/faban/internal/drivertransport"
)

func TestGetRecordsTimingAndSucceedsOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dc := DriverConfig(Config{URL: srv.URL})
	ctx := driver.NewContext("httpecho", func() int64 { return 0 }, func(start, end int64) bool { return true })
	ctx.ResetForOperation(0)

	if err := dc.Operations[0].Run(ctx); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	timing := ctx.Timing()
	if timing.Unset() {
		t.Fatalf("expected RecordTime to have stamped invoke/respond times")
	}
}

func TestGetReturnsErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dc := DriverConfig(Config{URL: srv.URL})
	ctx := driver.NewContext("httpecho", func() int64 { return 0 }, func(start, end int64) bool { return true })
	ctx.ResetForOperation(0)

	if err := dc.Operations[0].Run(ctx); err == nil {
		t.Fatalf("expected error on 500 response")
	}
}

func TestEchoPostRecordsManualTimingAndCarriesCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc"})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dc := DriverConfig(Config{URL: srv.URL})
	ctx := driver.NewContext("httpecho", func() int64 { return 0 }, func(start, end int64) bool { return true })

	ctx.ResetForOperation(0)
	if err := dc.Operations[0].Run(ctx); err != nil {
		t.Fatalf("GET failed: %v", err)
	}

	ctx.ResetForOperation(1)
	if err := dc.Operations[1].Run(ctx); err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if ctx.Timing().Unset() {
		t.Fatalf("expected the MANUAL operation to have stamped its own timing")
	}

	handler, ok := ctx.CookieHandler().(*drivertransport.CookieHandler)
	if !ok || handler == nil {
		t.Fatalf("expected a *drivertransport.CookieHandler bound to the context")
	}
	if handler.Count() == 0 {
		t.Fatalf("expected the server's Set-Cookie to have been captured")
	}
}
