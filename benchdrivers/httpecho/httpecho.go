// Package httpecho is a sample driver exercising the harness against a
// plain HTTP endpoint: one AUTO-timed GET and one MANUAL-timed POST,
// giving a minimal end-to-end example of spec.md §2's driver contract (an
// Operation table plus optional PreRun/PostRun hooks) that also exercises
// the drivertransport collaborator and its cookie handler rather than
// talking to net/http directly.
//
// Grounded on the teacher's one-connection-type-per-target-system shape
// (sibench/s3_connection.go, file_connection.go): a driver owns exactly
// the client state it needs and nothing about pacing or metrics.
package httpecho

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aasssddd/faban/internal/config"
	"github.com/aasssddd/faban/internal/cycle"
	"github.com/aasssddd/faban/internal/driver"
	"github.com/aasssddd/faban/internal/drivertransport"
)

// Name is the identifier run parameter files use in their "driver" field
// to select this package (config.RunParams.DriverName).
const Name = "httpecho"

// Config is httpecho's own fixed settings, distinct from the per-run
// timing/mix parameters that travel in config.RunParams: the target URL
// and request timeout are properties of the driver instance, not of any
// one run.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Register makes httpecho available to config.BuildRunInfo under Name,
// targeting url. Call this from a fabagent/fabmaster main before loading
// any run parameters that reference this driver. A single HTTPTransport
// (and its CookieHandler) is shared by every thread this driver spins up
// for the run, the same way one ThreadCookieHandler in the original
// served every HTTP call issued by one virtual-user thread.
func Register(url string) {
	config.RegisterDriver(Name, func() driver.DriverConfig {
		return DriverConfig(Config{URL: url, Timeout: 5 * time.Second})
	})
}

// DriverConfig builds the fixed operation table for cfg. Exported
// separately from Register so tests can build a DriverConfig without
// touching the global driver registry.
func DriverConfig(cfg Config) driver.DriverConfig {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	transport := drivertransport.NewHTTPTransport(&http.Client{Timeout: timeout})
	transport.StartSweeping(time.Minute)

	return driver.DriverConfig{
		Operations: []driver.Operation{
			{
				Name:   "get",
				Timing: driver.AUTO,
				Cycle:  cycle.Cycle{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 1000}},
				Run:    get(cfg.URL, transport),
			},
			{
				Name:   "echo-post",
				Timing: driver.MANUAL,
				Cycle:  cycle.Cycle{Type: cycle.ThinkTime, Distribution: cycle.Fixed{DelayMillis: 500}},
				Run:    echoPost(cfg.URL, transport),
			},
		},
		RunControl: driver.TIME,
	}
}

// get issues an AUTO-timed GET: the transport itself calls RecordTime, so
// the operation body never touches ctx's timing at all.
func get(url string, t *drivertransport.HTTPTransport) driver.Func {
	return func(ctx *driver.Context) error {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("httpecho: building GET %s failed, %w", url, err)
		}

		resp, err := t.Do(ctx, req)
		if err != nil {
			return fmt.Errorf("httpecho: GET %s failed, %w", url, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("httpecho: GET %s returned %d", url, resp.StatusCode)
		}
		return nil
	}
}

// echoPost issues a MANUAL-timed POST: the operation brackets its own
// critical section around sending the request and reading the reply
// (building the request is not timed), rather than leaving that to the
// transport (spec.md §4.7's
// MANUAL timing, matching the teacher's habit of timing only the part of
// an operation it considers the actual request/response, not setup).
func echoPost(url string, t *drivertransport.HTTPTransport) driver.Func {
	return func(ctx *driver.Context) error {
		body := bytes.NewBufferString("ping")
		req, err := http.NewRequest(http.MethodPost, url, body)
		if err != nil {
			return fmt.Errorf("httpecho: building POST %s failed, %w", url, err)
		}
		req.Header.Set("Content-Type", "text/plain")

		ctx.RecordTime()
		resp, err := t.RoundTrip(ctx, req)
		if err != nil {
			ctx.RecordTime()
			return fmt.Errorf("httpecho: POST %s failed, %w", url, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		ctx.RecordTime()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("httpecho: POST %s returned %d", url, resp.StatusCode)
		}
		return nil
	}
}
