package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/LegacyCodeHQ/mpptrack/cmd/build"
	"github.com/LegacyCodeHQ/mpptrack/cmd/cmdutil"
	"github.com/LegacyCodeHQ/mpptrack/cmd/units"
	"github.com/LegacyCodeHQ/mpptrack/cmd/watch"
)

// version is set via build-time ldflags
var version = "dev"

// buildDate is set via build-time ldflags
var buildDate = "unknown"

// commit is set via build-time ldflags
var commit = "unknown"

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mpptrack",
		Short: "Incremental builds for multiplatform projects with expect/actual declarations",
		Long: `mpptrack tracks which compilation units of a multiplatform project must be
rebuilt after an edit. It knows which platform units implement the expected
declarations of common code, so changing an expect rebuilds its actuals and
changing an actual body rebuilds nothing else.

Units, their source roots and dependencies are declared in mpptrack.toml.

Use 'mpptrack --help' to see all available commands, or 'mpptrack <command> --help'
for detailed information about a specific command.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.AddCommand(build.NewCommand())
	root.AddCommand(units.NewCommand())
	root.AddCommand(watch.NewCommand())

	// Initialize annotations for version template
	root.Annotations = map[string]string{
		"buildDate": buildDate,
		"commit":    commit,
	}

	// Customize version template to show additional build info
	root.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
Build date: {{printf "%s" (index .Annotations "buildDate")}}
Commit: {{printf "%s" (index .Annotations "commit")}}
`)

	root.PersistentFlags().StringP(cmdutil.ConfigFlag, "c", "", "Project configuration file (default: mpptrack.toml)")
	root.PersistentFlags().BoolP(cmdutil.VerboseFlag, "v", false, "Log debug output to stderr")

	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
