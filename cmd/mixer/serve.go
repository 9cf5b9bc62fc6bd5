package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	xlog "voiceover-mixer/internal/log"
	"voiceover-mixer/internal/monitor"
	"voiceover-mixer/internal/server"
	"voiceover-mixer/internal/workspace"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP mixing service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			logger := xlog.WithComponent("main")

			// 1. Setup Context for Graceful Shutdown
			// We catch SIGINT (Ctrl+C) and SIGTERM (OS shutdown).
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// 2. Wire the pipeline
			p, err := newPipeline(runCtx, cfg, false)
			if err != nil {
				return err
			}

			mon := monitor.NewSystemMonitor(monitor.Thresholds{
				CPUPercent: cfg.Monitor.CPUBusyPercent,
				RAMPercent: cfg.Monitor.RAMBusyPercent,
			}, cfg.Monitor.SampleMaxAge)

			srv := server.New(p.service, mon, server.Options{
				Addr:            cfg.ListenAddr,
				RateLimit:       cfg.RateLimit.Requests,
				RateWindow:      cfg.RateLimit.Window,
				Admission:       cfg.Monitor.Admission,
				Codec:           p.engine.Codec(),
				// A mix accepted before SIGTERM may run as long as one transcode.
				ShutdownTimeout: cfg.Transcode.Timeout,
			})
			janitor := workspace.NewJanitor(p.workspaces, cfg.Workspace.MaxAge, cfg.Workspace.SweepInterval)

			// 3. Run until a signal arrives or a component fails
			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error { return janitor.Run(gctx) })

			logger.Info().Str("addr", cfg.ListenAddr).Msg("mixer is online")
			err = g.Wait()
			logger.Info().Msg("mixer stopped")
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides listen_addr)")
	return cmd
}
