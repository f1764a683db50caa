package build

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/classify"
	"github.com/LegacyCodeHQ/mpptrack/cmd/build/formatters"
	"github.com/LegacyCodeHQ/mpptrack/cmd/cmdutil"
)

type buildOptions struct {
	format      string
	dryRun      bool
	uncommitted bool
	parallelism int
}

// NewCommand returns a new build command instance.
func NewCommand() *cobra.Command {
	opts := &buildOptions{
		format: formatters.FormatText,
	}

	cmd := &cobra.Command{
		Use:   "build [files...]",
		Short: "Run one incremental build cycle",
		Long: `Detects changed source files, computes the units they make dirty and
compiles those units in dependency order. The committed state is saved in
the project's state directory so the next run only rebuilds what changed.

Without file arguments every source file under the unit source roots is
compared with the content recorded by the last build. With --uncommitted
only the files git reports as uncommitted are considered.

Example usage:
  mpptrack build
  mpptrack build --dry-run
  mpptrack build --uncommitted
  mpptrack build --format=json lib/src/commonMain/F.kt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", opts.format, "Output format (text, json)")
	cmd.Flags().BoolVar(&opts.uncommitted, "uncommitted", false, "Only consider source files git reports as uncommitted")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the units that would be compiled without compiling")
	cmd.Flags().IntVarP(&opts.parallelism, "parallelism", "j", 0, "Maximum concurrent compilations per level (default: number of CPUs)")

	return cmd
}

func runBuild(cmd *cobra.Command, args []string, opts *buildOptions) error {
	if opts.uncommitted && len(args) > 0 {
		return fmt.Errorf("cannot use --uncommitted with explicit file arguments")
	}
	formatter, err := formatters.NewFormatter(opts.format)
	if err != nil {
		return err
	}

	ws, err := cmdutil.OpenWorkspace(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var changes []classify.FileChange
	switch {
	case len(args) > 0:
		changes, err = ws.Changes(args)
	case opts.uncommitted:
		changes, err = ws.UncommittedChanges(ctx)
	default:
		changes, err = ws.DetectChanges(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to detect changes: %w", err)
	}

	if opts.dryRun {
		plan, err := ws.Plan(ctx, changes)
		if err != nil {
			return err
		}
		output, err := formatter.FormatPlan(plan)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), output)
		return nil
	}

	report, err := ws.Build(ctx, changes)
	if report != nil {
		output, formatErr := formatter.FormatReport(report)
		if formatErr != nil {
			return formatErr
		}
		fmt.Fprint(cmd.OutOrStdout(), output)
	}
	if err != nil {
		return err
	}

	if !report.Succeeded() {
		cmd.SilenceUsage = true
		return fmt.Errorf("build incomplete: %d unit(s) not built", notBuilt(report))
	}
	return nil
}

func notBuilt(report *build.Report) int {
	n := 0
	for _, u := range report.Units {
		if u.State.Blocking() {
			n++
		}
	}
	return n
}
