package watch

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LegacyCodeHQ/mpptrack/cmd/cmdutil"
	"github.com/LegacyCodeHQ/mpptrack/vcs/git"
	"github.com/LegacyCodeHQ/mpptrack/workspace"
)

const shutdownTimeout = 2 * time.Second

type watchOptions struct {
	port        int
	parallelism int
}

// NewCommand returns a new watch command instance.
func NewCommand() *cobra.Command {
	opts := &watchOptions{
		port: 4900,
	}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild on every source change and serve live build reports",
		Long: `Watches the unit source roots, runs a build cycle for every batch of
changed files and serves the reports at localhost. A checkout or commit in
the enclosing git repository triggers a full rescan.

Endpoints:
  /           live view of the unit graph and the last reports
  /report     last report as JSON
  /units.dot  unit graph colored by the last build states
  /status     stage of the running cycle
  /events     server-sent events stream of build cycles`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "P", opts.port, "HTTP server port")
	cmd.Flags().IntVarP(&opts.parallelism, "parallelism", "j", 0, "Maximum concurrent compilations per level (default: number of CPUs)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *watchOptions) error {
	ws, err := cmdutil.OpenWorkspace(cmd)
	if err != nil {
		return err
	}
	logger := ws.Logger()

	b := newBroker()
	tl := &timeline{}
	srv := newServer(b, tl, ws, opts.port)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", opts.port, err)
	}

	go srv.Serve(ln)

	r := newRebuilder(ws, ws.Graph, b, tl, cmd.OutOrStdout(), logger)
	r.rescan(ctx)

	repoRoot, err := git.RepositoryRoot(ctx, ws.Config.Root)
	if err != nil {
		logger.Debug("Not a git repository, checkouts are not tracked", "root", ws.Config.Root)
		repoRoot = ""
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %d unit(s) under %s\n", ws.Graph.Len(), ws.Config.Root)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving at http://localhost:%d\n", opts.port)
	fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl+C to stop\n")

	err = watchAndRebuild(ctx, r, workspace.SourceRoots(ws.Graph), repoRoot)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	return err
}
