// Package scancli implements the scanner companion CLI: queue a scan
// offline, inspect the outbox, drain it against the gate API, and undo
// queued mistakes before they submit.
package scancli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lanyard/cmd/internal/scanqueue"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Queue   string
	Server  string
	Token   string
	AsJSON  bool
	Verbose bool
}

// NewRootCommand creates the root command for the scanner CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scanner",
		Short: "Lanyard offline scan queue",
		Long: `Queue credential scans locally and drain them to the gate API.

Scans enqueue instantly with no network. Each gets its idempotency key at
enqueue time, so draining the queue twice, or across crashes, can never
redeem one scan twice.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Queue, "queue", defaultQueuePath(), "path to the local queue database")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", os.Getenv("LANYARD_SERVER_URL"), "gate API base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("LANYARD_SCANNER_TOKEN"), "device bearer token")
	cmd.PersistentFlags().BoolVar(&opts.AsJSON, "json", false, "JSON output")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func defaultQueuePath() string {
	if v := os.Getenv("LANYARD_SCAN_QUEUE"); v != "" {
		return v
	}
	return "lanyard-scans.db"
}

func openQueue(opts *RootOptions) (*scanqueue.Store, error) {
	store, err := scanqueue.Open(opts.Queue)
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", opts.Queue, err)
	}
	return store, nil
}

func emit(cmd *cobra.Command, opts *RootOptions, v any, text func()) error {
	if opts.AsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}
