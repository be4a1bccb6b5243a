package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"statepop/internal/persist"
	"statepop/internal/pipeline"
	"statepop/internal/report"
	"statepop/internal/types"
)

func (a *app) browseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse [key]",
		Short: "Browse the grouped artifact of the last run",
		Long: `Loads nested-state-data.json and lets you pick a group with the arrow
keys. With a key argument the group is printed directly. When stdin is not a
terminal the group list is printed instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.browse,
	}
}

func (a *app) browse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	var view types.GroupedView
	if err := persist.New(store, "").Load(ctx, pipeline.NestedKey, &view); err != nil {
		return fmt.Errorf("no grouped data (run the pipeline first): %w", err)
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		records, ok := view.Get(args[0])
		if !ok {
			fmt.Fprintf(out, "No group found for key: %s\n", args[0])
			return nil
		}
		renderGroup(out, args[0], records)
		return nil
	}

	lines := groupList(&view)
	if term.IsTerminal(int(os.Stdin.Fd())) && interactiveSelect(lines, groupPrinter(out, &view)) {
		return nil
	}
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	return nil
}

// groupList renders one summary line per group in key order.
func groupList(view *types.GroupedView) []string {
	lines := make([]string, 0, view.Len())
	for key, records := range view.All() {
		lines = append(lines, fmt.Sprintf("%-24s %3d records", key, len(records)))
	}
	return lines
}

// groupPrinter returns a callback rendering the i-th group of view to w.
func groupPrinter(w io.Writer, view *types.GroupedView) func(i int) {
	keys := view.Keys()
	return func(i int) {
		records, _ := view.Get(keys[i])
		renderGroup(w, keys[i], records)
	}
}

// renderGroup prints the report lines of one group, tagging each row with its
// population change from the following (older) row.
func renderGroup(w io.Writer, key string, records []types.Record) {
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for i, r := range records {
		tag := ""
		if i+1 < len(records) {
			delta := r.Population - records[i+1].Population
			switch {
			case delta > 0:
				tag = fmt.Sprintf(" %s[+%d]%s", colorGreen, delta, colorReset)
			case delta < 0:
				tag = fmt.Sprintf(" %s[%d]%s", colorRed, delta, colorReset)
			}
		}
		fmt.Fprintf(w, "%s%s\n", report.Line(key, r), tag)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
}
