package scancli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show drained scans and their outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer store.Close()

			scans, err := store.ListResolved(cmd.Context(), limit)
			if err != nil {
				return err
			}

			return emit(cmd, rootOpts, scans, func() {
				if len(scans) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no drained scans")
					return
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREDENTIAL\tWINDOW\tOUTCOME\tRESOLVED")
				for _, s := range scans {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
						s.ID, s.CredentialID, s.WindowID, s.Outcome,
						s.ResolvedAt.Local().Format(time.TimeOnly))
				}
				_ = tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}
