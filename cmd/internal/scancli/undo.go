package scancli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"lanyard/cmd/internal/scanqueue"
)

// NewUndoCommand creates the undo command.
func NewUndoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <scan-id>",
		Short: "Remove a queued scan before it submits",
		Long: `Remove a queued scan before the drain submits it.

Only scans that have never started submitting can be undone. Once a
delivery attempt has left the device the server's outcome is
authoritative and cannot be recalled from here.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid scan id %q", args[0])
			}

			store, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Cancel(cmd.Context(), id); err != nil {
				if errors.Is(err, scanqueue.ErrNotPending) {
					return fmt.Errorf("scan %d is not pending (already drained or never queued)", id)
				}
				if errors.Is(err, scanqueue.ErrAlreadySubmitted) {
					return fmt.Errorf("scan %d already started submitting; its outcome is decided by the server", id)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled scan %d\n", id)
			return nil
		},
	}
}
