// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command process is the operator CLI for the routing pipeline.
//
//	process email <id>        run one email; exit code reports the outcome
//	process batch --limit N   run one batch over the backlog
//	process drain             run batches until the backlog is empty
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcem/mailrouter/internal/app"
	"github.com/bcem/mailrouter/internal/config"
	"github.com/bcem/mailrouter/internal/lease"
	"github.com/bcem/mailrouter/internal/store"
)

// Exit codes beyond the per-outcome ones.
const (
	exitError    = 1
	exitNotFound = 2
	exitBusy     = 5
)

// exitStatus carries a process exit status out of a command.
type exitStatus struct {
	code int
	err  error
}

func (e *exitStatus) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitStatus) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	var es *exitStatus
	if errors.As(err, &es) {
		if es.err != nil {
			slog.Error("command failed", "error", es.err)
		}
		os.Exit(es.code)
	}
	slog.Error("command failed", "error", err)
	os.Exit(exitError)
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "process",
		Short:         "Run the email routing pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(emailCmd(), batchCmd(), drainCmd())
	return root
}

// withApp loads configuration, connects, runs fn and closes the app.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	app.SetupLogging(os.Stderr, slog.LevelInfo)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	app.SetupLogging(os.Stderr, cfg.LogLevel)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func emailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "email <id>",
		Short: "Process a single email regardless of its status",
		Long: `Process a single email and print the result as JSON.

Exit codes: 0 categorized, 3 duplicate, 4 suggestion created, 1 failed,
2 email not found, 5 email leased by another worker.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return &exitStatus{code: exitError, err: fmt.Errorf("invalid email id %q", args[0])}
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Pipeline.ProcessEmail(cmd.Context(), id)
				switch {
				case errors.Is(err, store.ErrNotFound):
					return &exitStatus{code: exitNotFound, err: err}
				case errors.Is(err, lease.ErrHeld):
					return &exitStatus{code: exitBusy, err: err}
				case err != nil:
					return err
				}

				if err := printJSON(cmd, res); err != nil {
					return err
				}
				if code := res.Outcome.ExitCode(); code != 0 {
					return &exitStatus{code: code}
				}
				return nil
			})
		},
	}
}

func batchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Claim and process one batch from the backlog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				n := limit
				if n <= 0 {
					n = a.Config.BatchSize
				}
				br, err := a.Pipeline.RunBatch(cmd.Context(), n)
				if err != nil {
					return err
				}
				br.Results = nil
				return printJSON(cmd, br)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum emails to claim (default: configured batch size)")
	return cmd
}

func drainCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process batches until the backlog is empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				n := size
				if n <= 0 {
					n = a.Config.BatchSize
				}
				total, err := a.Pipeline.Drain(cmd.Context(), n)
				if total != nil {
					total.Results = nil
					if perr := printJSON(cmd, total); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&size, "batch-size", 0, "emails per batch (default: configured batch size)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
