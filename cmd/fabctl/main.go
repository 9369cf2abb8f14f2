// Command fabctl is the administrator's client for a running fabmaster:
// submit, list, delete, kill, check status, and ask it to exit, all as
// RPCs against fabmaster's admin listener (internal/admin).
//
// Cobra is used here rather than docopt, unlike fabmaster/fabagent: this
// is a multi-subcommand administration tool in the shape spf13/cobra is
// built for, while fabmaster/fabagent are single-purpose daemons whose
// entire surface is a handful of flags, matching the teacher's docopt
// usage-string style.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/aasssddd/faban/internal/admin"
	"github.com/aasssddd/faban/internal/rpc"
)

var adminAddr string

func main() {
	root := &cobra.Command{
		Use:   "fabctl",
		Short: "Administer a faban run queue",
	}
	root.PersistentFlags().StringVar(&adminAddr, "addr", "localhost:5450", "fabmaster admin address")

	root.AddCommand(
		submitCmd(),
		listCmd(),
		deleteCmd(),
		killCmd(),
		statusCmd(),
		startDaemonCmd(),
		stopDaemonCmd(),
		exitCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func dial() (*rpc.Conn, error) {
	return rpc.Dial(adminAddr, rpc.GobEncoderFactory, 5*time.Second)
}

func submitCmd() *cobra.Command {
	var submitter, bench, paramFile string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Admit a new run into the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(paramFile)
			if err != nil {
				return fmt.Errorf("fabctl: reading %s failed, %w", paramFile, err)
			}

			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			req := admin.SubmitRequest{
				Submitter:      submitter,
				BenchShortName: bench,
				ParamFileName:  filepath.Base(paramFile),
				ParamData:      data,
			}
			var resp admin.SubmitResponse
			if err := conn.Call("admin.submit", req, &resp); err != nil {
				return err
			}
			fmt.Printf("submitted as %s\n", resp.RunID)
			return nil
		},
	}
	cmd.Flags().StringVar(&submitter, "submitter", os.Getenv("USER"), "submitter identity")
	cmd.Flags().StringVar(&bench, "bench", "", "benchmark short name")
	cmd.Flags().StringVar(&paramFile, "params", "", "path to the run's YAML parameter file")
	cmd.MarkFlagRequired("bench")
	cmd.MarkFlagRequired("params")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var runs []admin.RunSummary
			if err := conn.Call("admin.list", struct{}{}, &runs); err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Printf("%-16s %-12s %-12s %s\n", r.RunID, r.BenchShortName, r.Submitter, r.SubmitTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Remove a not-yet-started run from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var reply interface{}
			if err := conn.Call("admin.delete", args[0], &reply); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func killCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill RUN_ID",
		Short: "Abort RUN_ID if it is currently running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var reply interface{}
			if err := conn.Call("admin.kill", args[0], &reply); err != nil {
				return err
			}
			fmt.Printf("kill requested for %s\n", args[0])
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the currently running and queued runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var status admin.StatusResponse
			if err := conn.Call("admin.status", struct{}{}, &status); err != nil {
				return err
			}
			if status.CurrentRunID == "" {
				fmt.Println("no run currently executing")
			} else {
				fmt.Printf("currently running: %s\n", status.CurrentRunID)
			}
			fmt.Printf("%d run(s) queued\n", len(status.Queued))
			for _, r := range status.Queued {
				fmt.Printf("  %-16s %-12s\n", r.RunID, r.BenchShortName)
			}
			if status.DaemonRunning {
				fmt.Println("daemon: running")
			} else {
				fmt.Println("daemon: stopped")
			}
			return nil
		},
	}
}

func startDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-daemon",
		Short: "Resume polling the queue if it was previously stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var reply interface{}
			if err := conn.Call("admin.start-daemon", struct{}{}, &reply); err != nil {
				return err
			}
			fmt.Println("daemon started")
			return nil
		},
	}
}

func stopDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop-daemon",
		Short: "Let the current run finish, then stop polling the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var reply interface{}
			if err := conn.Call("admin.stop-daemon", struct{}{}, &reply); err != nil {
				return err
			}
			fmt.Println("daemon stopped")
			return nil
		},
	}
}

func exitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exit",
		Short: "Ask fabmaster to shut down; a run in progress is not waited for",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			var reply interface{}
			return conn.Call("admin.exit", struct{}{}, &reply)
		},
	}
}
