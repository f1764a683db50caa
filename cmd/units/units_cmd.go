package units

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/cmd/cmdutil"
	"github.com/LegacyCodeHQ/mpptrack/cmd/units/formatters"
	"github.com/LegacyCodeHQ/mpptrack/project"
	"github.com/LegacyCodeHQ/mpptrack/state"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

type unitsOptions struct {
	format string
	states bool
}

// NewCommand returns a new units command instance.
func NewCommand() *cobra.Command {
	opts := &unitsOptions{
		format: formatters.FormatText,
	}

	cmd := &cobra.Command{
		Use:   "units",
		Short: "Print the unit graph",
		Long: `Prints the compilation units declared by the project configuration in
build order, or as a Graphviz DOT graph.

Example usage:
  mpptrack units
  mpptrack units --format=dot --states | dot -Tsvg > units.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnits(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", opts.format, "Output format (text, dot)")
	cmd.Flags().BoolVar(&opts.states, "states", false, "Include the unit states of the last build")

	return cmd
}

func runUnits(cmd *cobra.Command, opts *unitsOptions) error {
	formatter, err := formatters.NewFormatter(opts.format)
	if err != nil {
		return err
	}

	cfg, err := project.Load(cmdutil.ConfigPath(cmd), nil)
	if err != nil {
		return err
	}
	g, err := cfg.Graph()
	if err != nil {
		return fmt.Errorf("failed to build unit graph: %w", err)
	}

	formatOpts := formatters.FormatOptions{Root: cfg.Root}
	if opts.states {
		formatOpts.States, err = lastStates(cfg, g)
		if err != nil {
			return err
		}
	}

	output, err := formatter.Format(g, formatOpts)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}

// lastStates reads the unit states saved by the last build. Units that were
// never built have no state.
func lastStates(cfg *project.Config, g *unitgraph.Graph) (map[unitgraph.UnitID]build.UnitState, error) {
	store, err := state.NewStore(cfg.StateDir())
	if err != nil {
		return nil, err
	}
	st, err := store.Load()
	if errors.Is(err, state.ErrNoState) || errors.Is(err, state.ErrIncompatible) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if st.Graph != state.GraphSignature(g) {
		return nil, nil
	}

	states := make(map[unitgraph.UnitID]build.UnitState, len(st.Driver.Outcomes))
	for id, outcome := range st.Driver.Outcomes {
		states[id] = outcome.State
	}
	return states, nil
}
