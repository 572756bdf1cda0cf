package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keelbuild/keel/internal/report"
	"github.com/keelbuild/keel/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Output   string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a profile report from a build database",
		Long: `Render the records of a keel build database as a canonical JSON
profile report. Keys are shown as "<rule family>#<id>" because the rule
types of the producing build are not loaded here.

Example:
  keel report --db ./.keel.db -o report.json
  keel report --db ./.keel.db -o -`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to build database (required)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "-", `report path ("-" for stdout)`)
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReport(opts *ReportOptions) error {
	rows, session, err := store.ReadSummaries(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}

	index := make(map[int64]int, len(rows))
	for i, r := range rows {
		index[r.ID] = i
	}

	entries := make([]store.ReportEntry, len(rows))
	for i, r := range rows {
		groups := make([][]int, 0, len(r.DepGroups))
		for _, g := range r.DepGroups {
			ids := make([]int, 0, len(g))
			for _, id := range g {
				if di, ok := index[id]; ok {
					ids = append(ids, di)
				}
			}
			groups = append(groups, ids)
		}
		entries[i] = store.ReportEntry{
			Name:      fmt.Sprintf("%s#%d", r.KeyType, r.ID),
			Built:     r.Built,
			Changed:   r.Changed,
			Execution: r.Execution,
			Depends:   groups,
		}
	}

	if err := report.Write(opts.Output, session, entries); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}
	if opts.Output != "-" {
		fmt.Fprintf(os.Stderr, "wrote %s\n", opts.Output)
	}
	return nil
}
