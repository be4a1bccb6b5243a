package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List stored artifacts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			infos, err := store.List(ctx, prefix)
			if err != nil {
				return fmt.Errorf("failed to list artifacts: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(out, "No artifacts found")
				return nil
			}
			for _, info := range infos {
				fmt.Fprintf(out, "%-32s %10d  %s\n", info.Key, info.Size, info.LastModified.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}
