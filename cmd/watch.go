package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"grimm.is/vpnadmin/internal/health"
)

func newWatchCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream VPN status updates until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			err := flags.client().WatchStatus(cmd.Context(), func(snap health.Snapshot) {
				if !flags.json {
					// Clear screen and home the cursor between frames.
					fmt.Fprint(out, "\033[H\033[2J")
				}
				if err := printSnapshot(out, snap, flags.json); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "render: %v\n", err)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
