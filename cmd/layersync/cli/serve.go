package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GrainArc/LayerSync/models"
	"github.com/GrainArc/LayerSync/routers"
	"github.com/GrainArc/LayerSync/services"
	"github.com/GrainArc/LayerSync/views"
)

func NewServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the bucket cleanup worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := models.Migrate(ctx, a.db); err != nil {
					return err
				}
			}
			if cfg.HTTP.EditorToken == "" {
				a.log.Warn("http.editor_token is empty, every mutating request will be refused")
			}

			r := routers.NewEngine(a.log)
			routers.LayerRouters(r, a.layerHandler(), views.BearerToken(cfg.HTTP.EditorToken))
			server := &http.Server{
				Addr:         cfg.HTTP.Addr,
				Handler:      r,
				ReadTimeout:  cfg.HTTP.ReadTimeout,
				WriteTimeout: cfg.HTTP.WriteTimeout,
			}
			worker := services.NewCleanupWorker(a.queue, cfg.Cleanup.Interval, cfg.Cleanup.Limit, a.log)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info("listening", zap.String("addr", cfg.HTTP.Addr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return worker.Run(ctx)
			})
			g.Go(func() error {
				<-ctx.Done()
				a.log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
				defer cancel()
				return errors.Join(server.Shutdown(shutdownCtx), worker.Close())
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "create missing tables before serving")

	return cmd
}
