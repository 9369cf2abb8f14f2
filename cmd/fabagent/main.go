// Command fabagent runs the per-host Agent process described in spec.md
// §4.3: it listens for Master's connection, then hosts whatever worker
// pool Master configures for each run until told to exit.
//
// Grounded on the teacher's main.go: a single docopt usage string bound
// straight into a flat options struct, dispatching into one start
// function.
package main

import (
	"fmt"
	"os"

	"github.com/docopt/docopt-go"

	"github.com/aasssddd/faban/benchdrivers/httpecho"
	"github.com/aasssddd/faban/internal/agent"
	"github.com/aasssddd/faban/internal/logging"
	"github.com/aasssddd/faban/internal/rpc"
)

var log = logging.Named("fabagent")

func usage() string {
	return `Faban Agent.
Usage:
  fabagent [--listen ADDR] [--target URL]

Options:
  --listen ADDR   Address to listen for Master's connection on.  [default: :5451]
  --target URL    URL the bundled httpecho driver should exercise.  [default: http://localhost:8080/]
`
}

type options struct {
	Listen string
	Target string
}

func main() {
	opts, err := docopt.ParseDoc(usage())
	dieOnError(err, "error parsing arguments")

	var o options
	dieOnError(opts.Bind(&o), "error binding options")

	httpecho.Register(o.Target)

	if err := run(o); err != nil {
		log.Errorf("fabagent exiting: %v", err)
		os.Exit(1)
	}
}

func run(o options) error {
	ln, err := rpc.Listen(o.Listen, rpc.GobEncoderFactory)
	if err != nil {
		return fmt.Errorf("fabagent: listen on %s failed, %w", o.Listen, err)
	}
	log.Infof("listening on %s for master", o.Listen)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("fabagent: accept failed, %w", err)
		}
		serveOneMaster(conn, o.Listen)
	}
}

// serveOneMaster handles exactly one Master connection at a time, per
// spec.md §4.1 (an Agent belongs to one run, hence one Master, at a
// time). When the connection drops, the loop in run accepts the next one.
func serveOneMaster(conn *rpc.Conn, listenAddr string) {
	defer conn.Close()

	a := agent.New(conn, listenAddr)
	if err := a.SyncClock(); err != nil {
		log.Errorf("clock sync failed: %v", err)
		return
	}

	if err := conn.Serve(); err != nil {
		log.Warnf("master connection ended: %v", err)
	}
}

func dieOnError(err error, format string, a ...interface{}) {
	if err != nil {
		fmt.Fprintf(os.Stderr, format, a...)
		fmt.Fprintf(os.Stderr, ": %v\n", err)
		os.Exit(1)
	}
}
