package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/runner"
	"github.com/bgricker/buildgate/internal/server"
	"github.com/bgricker/buildgate/internal/source"
)

const shutdownGrace = 30 * time.Second

// checkout is swapped in tests.
var checkout = source.Checkout

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive GitHub webhooks and run the pipeline for matching events",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "listen address (default :8080)")
	cmd.Flags().Duration("timeout", 0, "deadline for each run (0 disables)")
	cmd.Flags().String("artifact-dir", "", "directory receiving coverage artifacts")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	resolver, err := loadCredentials(p)
	if err != nil {
		return err
	}
	adapters, closeAdapters, err := newAdapters(p.cfg, p.root)
	if err != nil {
		return err
	}
	defer closeAdapters()

	if p.settings.WorkDir != "" {
		if err := os.MkdirAll(p.settings.WorkDir, 0o755); err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
	}

	exec := runner.New(resolver, adapters, runner.Options{
		Logger: p.logger,
		LogDir: p.cfg.ResolvePath(p.root, p.cfg.LogDir),
	})
	srv, err := server.New(server.Options{
		Definition:    p.def,
		Secret:        []byte(p.settings.WebhookSecret),
		Execute:       checkoutAndRun(exec, p.def, p.settings.WorkDir, p.cfg.Timeout),
		MaxConcurrent: p.cfg.Server.MaxConcurrent,
		DedupWindow:   p.settings.DedupWindow,
		Logger:        p.logger,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(p.cfg.Server.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	p.logger.Info().Msg("shutting down, waiting for running pipelines")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// checkoutAndRun clones the event's commit into a fresh workspace under
// workDir and runs def there. The workspace is removed afterwards. The run
// deadline starts once the checkout is in place, so a timeout always ends in
// a failed run rather than one that never started.
func checkoutAndRun(exec *runner.Executor, def pipeline.Definition, workDir string, timeout time.Duration) server.ExecuteFunc {
	return func(ctx context.Context, id string, event pipeline.Event, obs runner.Observer) (*pipeline.Run, error) {
		branch := event.Branch
		if event.HeadBranch != "" {
			branch = event.HeadBranch
		}
		dir, err := checkout(ctx, source.CheckoutOptions{
			URL:    event.CloneURL,
			Branch: branch,
			Commit: event.Commit,
			Dir:    workDir,
		})
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return exec.WithRunID(id).WithWorkspace(dir).WithObserver(obs).Run(ctx, def, event)
	}
}
