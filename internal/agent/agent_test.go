package agent

import (
	"testing"
	"time"

	"github.com/aasssddd/faban/internal/cycle"
	"github.com/aasssddd/faban/internal/driver"
	"github.com/aasssddd/faban/internal/mix"
	"github.com/aasssddd/faban/internal/rpc"
)

// fakeMasterSide drives the master half of the RPC connection inside
// these tests: it answers currentTimeMillis and records abortRun calls,
// and issues configure/start/getResults to the agent under test.
type fakeMasterSide struct {
	conn    *rpc.Conn
	aborted chan string
}

func newFakeMasterSide(conn *rpc.Conn) *fakeMasterSide {
	m := &fakeMasterSide{conn: conn, aborted: make(chan string, 8)}
	conn.Handle("currentTimeMillis", func(data []byte) (interface{}, error) {
		return time.Now().UnixNano() / int64(time.Millisecond), nil
	})
	conn.Handle("abortRun", func(data []byte) (interface{}, error) {
		var reason string
		rpc.UnmarshalPayload(data, &reason)
		m.aborted <- reason
		return nil, nil
	})
	return m
}

func dialPair(t *testing.T) (masterConn, agentConn *rpc.Conn) {
	t.Helper()
	ln, err := rpc.Listen("127.0.0.1:0", rpc.GobEncoderFactory)
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	acceptedCh := make(chan *rpc.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptedCh <- c
		}
	}()

	client, err := rpc.Dial(ln.Addr().String(), rpc.GobEncoderFactory, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	server := <-acceptedCh
	return client, server
}

func testRunInfo() driver.RunInfo {
	return driver.RunInfo{
		RunID:       "X.1A",
		RampUp:      0,
		SteadyState: 1000,
		RampDown:    0,
		Driver: driver.DriverConfig{
			RunControl: driver.CYCLES,
			Cycles:     2,
			Operations: []driver.Operation{
				{
					Name:   "op0",
					Timing: driver.AUTO,
					Cycle:  cycle.Cycle{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 1}},
					Run: func(ctx *driver.Context) error {
						ctx.RecordTime()
						ctx.RecordTime()
						return nil
					},
				},
			},
			Mixes: [2]*driver.MixConfig{
				{Matrix: []mix.Row{{1}}, InitialDelay: cycle.Cycle{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 0}}},
				nil,
			},
		},
	}
}

func TestAgentConfigureStartAndGetResultsRoundTrip(t *testing.T) {
	masterConn, agentConn := dialPair(t)
	defer masterConn.Close()
	defer agentConn.Close()

	master := newFakeMasterSide(masterConn)
	_ = master

	ag := New(agentConn, "test-agent:0")
	if err := ag.SyncClock(); err != nil {
		t.Fatalf("sync clock failed: %v", err)
	}

	info := testRunInfo()
	// benchStartTime comfortably in the future so the trigger check in
	// worker.waitForTrigger doesn't abort before the start call releases
	// the time-set latch.
	info.BenchStartTime = time.Now().UnixNano()/int64(time.Millisecond) + 200

	var reply interface{}
	if err := masterConn.Call("configure", ConfigureRequest{RunInfo: info, ThreadCount: 2}, &reply); err != nil {
		t.Fatalf("configure call failed: %v", err)
	}

	if err := masterConn.Call("start", struct{}{}, &reply); err != nil {
		t.Fatalf("start call failed: %v", err)
	}

	var results interface{}
	done := make(chan error, 1)
	go func() {
		done <- masterConn.Call("getResults", struct{}{}, &results)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("getResults call failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("getResults did not return in time")
	}
}
