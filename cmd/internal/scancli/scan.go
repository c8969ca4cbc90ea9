package scancli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <credential-id> <window-id>",
		Short: "Queue one scan for later submission",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer store.Close()

			scan, err := store.Enqueue(cmd.Context(), args[0], args[1], time.Now().UTC())
			if err != nil {
				return err
			}

			return emit(cmd, rootOpts, scan, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "queued scan %d (credential %s, window %s)\n",
					scan.ID, scan.CredentialID, scan.WindowID)
			})
		},
	}
}
