package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"statepop/internal/database"
	"statepop/internal/report"
)

func (a *app) queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <state>",
		Short: "Print a state's records from the database mirror",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.DatabaseEnabled() {
				return errors.New("no database configured (set database.driver or STATEPOP_DB_DRIVER)")
			}
			ctx := cmd.Context()
			db, err := database.Open(ctx, a.cfg.DatabaseConfig(), a.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			state := strings.Join(args, " ")
			records, err := db.QueryState(ctx, state)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintf(out, "No records found for state: %s\n", state)
				return nil
			}
			for _, r := range records {
				fmt.Fprintln(out, report.Line(state, r))
			}
			return nil
		},
	}
}
