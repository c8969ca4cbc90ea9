package scancli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"lanyard/cmd/internal/scanqueue"
)

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Submit queued scans to the gate API in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Server == "" {
				return errors.New("--server (or LANYARD_SERVER_URL) is required")
			}
			if rootOpts.Token == "" {
				return errors.New("--token (or LANYARD_SCANNER_TOKEN) is required")
			}

			store, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer store.Close()

			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			if !rootOpts.Verbose {
				log = slog.New(slog.NewTextHandler(io.Discard, nil))
			}

			drainer, err := scanqueue.NewDrainer(log, scanqueue.DrainConfig{}, store, scanqueue.HTTPSubmitter{
				BaseURL: rootOpts.Server,
				Token:   rootOpts.Token,
			})
			if err != nil {
				return err
			}

			if watch {
				return drainer.Run(cmd.Context())
			}
			if err := drainer.Drain(cmd.Context()); err != nil {
				return err
			}

			remaining, err := store.ListPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "drained; %d scan(s) still pending\n", len(remaining))
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep draining until interrupted")
	return cmd
}
