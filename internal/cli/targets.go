package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keelbuild/keel/internal/store"
)

// TargetsOptions holds flags for the targets command.
type TargetsOptions struct {
	*RootOptions
	Database string
}

// NewTargetsCommand creates the targets command.
func NewTargetsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TargetsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List recorded build targets",
		Long: `List every record in a keel build database: its id, rule family,
and build/change stamps.

Example:
  keel targets --db ./.keel.db
  keel targets --db ./.keel.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to build database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runTargets(opts *TargetsOptions, cmd *cobra.Command) error {
	rows, session, err := store.ReadSummaries(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}

	if opts.Format == "json" {
		type jsonRow struct {
			ID      int64  `json:"id"`
			KeyType string `json:"key_type"`
			Built   int64  `json:"built"`
			Changed int64  `json:"changed"`
		}
		out := struct {
			Session string    `json:"session"`
			Targets []jsonRow `json:"targets"`
		}{Session: session}
		for _, r := range rows {
			out.Targets = append(out.Targets, jsonRow{ID: r.ID, KeyType: r.KeyType, Built: r.Built, Changed: r.Changed})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "session: %s\n", session)
	for _, r := range rows {
		fmt.Fprintf(w, "%6d  %-40s built=%d changed=%d", r.ID, r.KeyType, r.Built, r.Changed)
		if opts.Verbose {
			fmt.Fprintf(w, " execution=%s deps=%v", r.Execution, r.DepGroups)
		}
		fmt.Fprintln(w)
	}
	return nil
}
