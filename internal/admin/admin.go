// Package admin exposes the run-queue administration surface described in
// spec.md §6 (submit/list/delete/kill/status/exit) as a small set of RPC
// handlers, reusing internal/rpc's Conn the same way internal/master and
// internal/agent do for the benchmark-run protocol. cmd/fabctl is the
// client; cmd/fabmaster attaches a Server to its own admin listener.
package admin

import (
	"fmt"
	"time"

	"github.com/aasssddd/faban/internal/config"
	"github.com/aasssddd/faban/internal/logging"
	"github.com/aasssddd/faban/internal/queue"
	"github.com/aasssddd/faban/internal/rpc"
)

var log = logging.Named("admin")

// SubmitRequest is the payload of the "admin.submit" call.
type SubmitRequest struct {
	Submitter      string
	BenchShortName string
	ParamFileName  string
	ParamData      []byte
}

// SubmitResponse carries the minted run id back to the submitter.
type SubmitResponse struct {
	RunID string
}

// RunSummary is one queued or active run, as reported by "admin.list".
type RunSummary struct {
	RunID          string
	BenchShortName string
	Submitter      string
	SubmitTime     time.Time
}

// StatusResponse answers "admin.status": what's running now, and what's
// waiting behind it.
type StatusResponse struct {
	CurrentRunID  string
	Queued        []RunSummary
	DaemonRunning bool
}

// Server wires a RunQueue and its RunDaemon to the admin RPC surface.
type Server struct {
	queue       *queue.RunQueue
	daemon      *queue.RunDaemon
	descriptors config.DescriptorSource
	exitCh      chan struct{}
}

// New builds a Server over an already-constructed queue and daemon. The
// daemon is expected to already be running in its own goroutine. descriptors
// may be nil, in which case admin.submit accepts any BenchShortName without
// validating it against a known benchmark.
func New(q *queue.RunQueue, d *queue.RunDaemon, descriptors config.DescriptorSource) *Server {
	return &Server{queue: q, daemon: d, descriptors: descriptors, exitCh: make(chan struct{})}
}

// Attach registers every admin handler on conn.
func (s *Server) Attach(conn *rpc.Conn) {
	conn.Handle("admin.submit", s.handleSubmit)
	conn.Handle("admin.list", s.handleList)
	conn.Handle("admin.delete", s.handleDelete)
	conn.Handle("admin.kill", s.handleKill)
	conn.Handle("admin.status", s.handleStatus)
	conn.Handle("admin.start-daemon", s.handleStartDaemon)
	conn.Handle("admin.stop-daemon", s.handleStopDaemon)
	conn.Handle("admin.exit", s.handleExit)
}

// ExitRequested is closed once a client has called "admin.exit", so the
// hosting main can shut the daemon down and terminate.
func (s *Server) ExitRequested() <-chan struct{} {
	return s.exitCh
}

func (s *Server) handleSubmit(data []byte) (interface{}, error) {
	var req SubmitRequest
	if err := rpc.UnmarshalPayload(data, &req); err != nil {
		return nil, err
	}
	if s.descriptors != nil {
		if _, err := s.descriptors.Descriptor(req.BenchShortName); err != nil {
			return nil, fmt.Errorf("admin: submit rejected, %w", err)
		}
	}
	runID, err := s.queue.Add(req.Submitter, req.BenchShortName, req.ParamFileName, req.ParamData)
	if err != nil {
		return nil, err
	}
	s.daemon.Signal()
	log.WithField("runId", runID).Infof("submitted by %s", req.Submitter)
	return SubmitResponse{RunID: runID}, nil
}

func (s *Server) handleList(data []byte) (interface{}, error) {
	runs, err := s.queue.List()
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		out[i] = RunSummary{RunID: r.RunID, BenchShortName: r.BenchShortName, Submitter: r.Submitter, SubmitTime: r.SubmitTime}
	}
	return out, nil
}

func (s *Server) handleDelete(data []byte) (interface{}, error) {
	var runID string
	if err := rpc.UnmarshalPayload(data, &runID); err != nil {
		return nil, err
	}
	removed, err := s.queue.Delete(runID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, fmt.Errorf("admin: run %s not found in queue", runID)
	}
	return nil, nil
}

func (s *Server) handleKill(data []byte) (interface{}, error) {
	var runID string
	if err := rpc.UnmarshalPayload(data, &runID); err != nil {
		return nil, err
	}
	s.daemon.KillCurrentRun(runID)
	return nil, nil
}

func (s *Server) handleStatus(data []byte) (interface{}, error) {
	runs, err := s.queue.List()
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		out[i] = RunSummary{RunID: r.RunID, BenchShortName: r.BenchShortName, Submitter: r.Submitter, SubmitTime: r.SubmitTime}
	}
	return StatusResponse{CurrentRunID: s.queue.GetCurrentRunID(), Queued: out, DaemonRunning: s.daemon.Running()}, nil
}

// handleStartDaemon answers "admin.start-daemon": resume polling the queue
// after a prior stop-daemon. A no-op if the daemon is already running.
func (s *Server) handleStartDaemon(data []byte) (interface{}, error) {
	s.daemon.Start()
	log.Infof("daemon started")
	return nil, nil
}

// handleStopDaemon answers "admin.stop-daemon": let any currently running
// run finish, then park the poll loop until admin.start-daemon resumes it.
func (s *Server) handleStopDaemon(data []byte) (interface{}, error) {
	s.daemon.Stop()
	log.Infof("daemon stopped")
	return nil, nil
}

func (s *Server) handleExit(data []byte) (interface{}, error) {
	select {
	case <-s.exitCh:
	default:
		close(s.exitCh)
	}
	return nil, nil
}
