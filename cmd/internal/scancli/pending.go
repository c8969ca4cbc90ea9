package scancli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List scans waiting for submission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer store.Close()

			scans, err := store.ListPending(cmd.Context())
			if err != nil {
				return err
			}

			return emit(cmd, rootOpts, scans, func() {
				if len(scans) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
					return
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREDENTIAL\tWINDOW\tQUEUED\tATTEMPTS\tLAST ERROR")
				for _, s := range scans {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
						s.ID, s.CredentialID, s.WindowID,
						s.EnqueuedAt.Local().Format(time.TimeOnly), s.Attempts, s.LastError)
				}
				_ = tw.Flush()
			})
		},
	}
}
