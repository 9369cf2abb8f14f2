// Command fabmaster runs the coordinator process described in spec.md
// §4.1-§4.2: it holds a persistent connection to every configured Agent,
// runs the queue daemon that admits and executes runs one at a time, and
// answers fabctl's admin RPCs (submit/list/delete/kill/status/exit).
//
// Grounded on the teacher's main.go dispatch (startServer/startRun) and
// Manager's connect-once-then-run-many-phases shape (sibench/manager.go):
// here it is connect-once-then-run-many-queued-runs.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/aasssddd/faban/benchdrivers/httpecho"
	"github.com/aasssddd/faban/internal/admin"
	"github.com/aasssddd/faban/internal/config"
	"github.com/aasssddd/faban/internal/logging"
	masterpkg "github.com/aasssddd/faban/internal/master"
	"github.com/aasssddd/faban/internal/queue"
	"github.com/aasssddd/faban/internal/report"
	"github.com/aasssddd/faban/internal/rpc"
)

var log = logging.Named("fabmaster")

func usage() string {
	return `Faban Master.
Usage:
  fabmaster [--agents LIST] [--admin-listen ADDR] [--queue-dir DIR] [--active-dir DIR] [--output-dir DIR] [--thread-count N] [--target URL]

Options:
  --agents LIST          Comma-separated host:port list of fabagent processes.  [default: localhost:5451]
  --admin-listen ADDR    Address fabctl connects to.  [default: :5450]
  --queue-dir DIR        Directory holding admitted, not-yet-started runs.  [default: ./faban-queue]
  --active-dir DIR       Directory holding the currently executing run.  [default: ./faban-active]
  --output-dir DIR       Directory holding completed runs' reports.  [default: ./faban-output]
  --thread-count N       Threads per agent when a run's params leave threadCount unset.  [default: 4]
  --target URL           URL the bundled httpecho driver should exercise.  [default: http://localhost:8080/]
`
}

type options struct {
	Agents       string
	AdminListen  string
	QueueDir     string
	ActiveDir    string
	OutputDir    string
	ThreadCount  int
	Target       string
}

func main() {
	opts, err := docopt.ParseDoc(usage())
	dieOnError(err, "error parsing arguments")

	var o options
	dieOnError(opts.Bind(&o), "error binding options")

	httpecho.Register(o.Target)

	if err := run(o); err != nil {
		log.Errorf("fabmaster exiting: %v", err)
		os.Exit(1)
	}
}

func run(o options) error {
	handles, err := dialAgents(strings.Split(o.Agents, ","))
	if err != nil {
		return err
	}

	mstr := masterpkg.New(handles)
	params := config.NewYAMLParamRepository()

	store := queue.NewFileStore(filepath.Join(o.QueueDir, ".lock"), filepath.Join(o.QueueDir, ".sequence"))
	rq := queue.NewRunQueue(store, o.QueueDir, o.OutputDir)

	executor := buildExecutor(mstr, params, o)
	daemon := queue.NewRunDaemon(rq, o.ActiveDir, executor)
	go daemon.Run()
	defer daemon.Stop()

	descriptors := config.StaticDescriptorSource{
		httpecho.Name: config.BenchmarkDescriptor{
			ShortName:   httpecho.Name,
			DriverTypes: []string{httpecho.Name},
		},
	}
	adminSrv := admin.New(rq, daemon, descriptors)
	adminLn, err := rpc.Listen(o.AdminListen, rpc.GobEncoderFactory)
	if err != nil {
		return fmt.Errorf("fabmaster: admin listen on %s failed, %w", o.AdminListen, err)
	}
	log.Infof("admin surface listening on %s", o.AdminListen)

	go func() {
		for {
			c, err := adminLn.Accept()
			if err != nil {
				return
			}
			adminSrv.Attach(c)
		}
	}()

	<-adminSrv.ExitRequested()
	log.Infof("exit requested, shutting down")
	return nil
}

func dialAgents(addrs []string) ([]*masterpkg.AgentHandle, error) {
	handles := make([]*masterpkg.AgentHandle, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		conn, err := rpc.Dial(addr, rpc.GobEncoderFactory, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("fabmaster: dial agent %s failed, %w", addr, err)
		}
		log.Infof("connected to agent %s", addr)
		handles = append(handles, &masterpkg.AgentHandle{Host: addr, Conn: conn})
	}
	if len(handles) == 0 {
		return nil, fmt.Errorf("fabmaster: no agents configured")
	}
	return handles, nil
}

// buildExecutor adapts a Master into the queue.Executor shape: load the
// run's parameter file out of its directory, build a RunInfo, run it to
// completion, and stream the result to a report file in outputDir.
func buildExecutor(mstr *masterpkg.Master, params config.ParamRepository, o options) queue.Executor {
	return func(ctx context.Context, r queue.Run, runDir string) error {
		paramPath, err := findParamFile(runDir)
		if err != nil {
			return err
		}
		p, err := params.Load(paramPath)
		if err != nil {
			return err
		}

		info, err := config.BuildRunInfo(r.RunID, p)
		if err != nil {
			return err
		}

		rpt, err := report.New(r.RunID, filepath.Join(o.OutputDir, r.RunID+".json"))
		if err != nil {
			return err
		}
		defer rpt.Close()

		threadCount := info.ThreadCount
		if threadCount <= 0 {
			threadCount = o.ThreadCount
		}

		info, err = mstr.StartRun(info, threadCount)
		if err != nil {
			rpt.AddError(err)
			return err
		}

		joinDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				mstr.Kill("run cancelled by administrator")
			case <-joinDone:
			}
		}()

		stats, aborted, err := mstr.JoinRun()
		close(joinDone)
		if err != nil {
			rpt.AddError(err)
			return err
		}
		if aborted {
			rpt.AddError(fmt.Errorf("run %s was aborted partway through, metrics reflect a partial run", r.RunID))
			log.WithField("runId", r.RunID).Warnf("joined an aborted run, metrics are partial")
		}

		for i, s := range stats {
			name := fmt.Sprintf("op%d", i)
			if i < len(info.Driver.Operations) {
				name = info.Driver.Operations[i].Name
			}
			rpt.AddOpStat(name, s)
		}
		report.DisplaySummary(info, stats)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
}

func findParamFile(runDir string) (string, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return "", fmt.Errorf("fabmaster: reading run directory %s failed, %w", runDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			return filepath.Join(runDir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("fabmaster: no parameter file found in %s", runDir)
}

func dieOnError(err error, format string, a ...interface{}) {
	if err != nil {
		fmt.Fprintf(os.Stderr, format, a...)
		fmt.Fprintf(os.Stderr, ": %v\n", err)
		os.Exit(1)
	}
}
