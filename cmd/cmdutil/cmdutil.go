// Package cmdutil holds helpers shared by the subcommands.
package cmdutil

import (
	"github.com/spf13/cobra"

	"github.com/LegacyCodeHQ/mpptrack/workspace"
)

// Persistent flag names registered on the root command.
const (
	ConfigFlag  = "config"
	VerboseFlag = "verbose"
)

// OpenWorkspace opens the project named by the --config flag. Flags of cmd
// override configuration keys of the same name, and logs go to stderr.
func OpenWorkspace(cmd *cobra.Command) (*workspace.Workspace, error) {
	flags := cmd.Flags()
	verbose, _ := flags.GetBool(VerboseFlag)

	return workspace.Open(workspace.Options{
		ConfigPath: ConfigPath(cmd),
		Flags:      flags,
		LogWriter:  cmd.ErrOrStderr(),
		Verbose:    verbose,
	})
}

// ConfigPath returns the value of the --config flag, or "" when the flag is
// not registered.
func ConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup(ConfigFlag); f != nil {
		return f.Value.String()
	}
	return ""
}
