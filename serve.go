package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wlu03/story-to-scene-magic-08/routers"
	"github.com/wlu03/story-to-scene-magic-08/routers/api"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with a task worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mode := modeServe
			if noWorker {
				cfg, err := ctx.config()
				if err != nil {
					return err
				}
				if cfg.Queue.Mode != "asynq" {
					return errors.New("--no-worker needs queue.mode asynq")
				}
				mode = modeCLI
			}
			a, err := ctx.open(runCtx, mode)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.startProcessor(); err != nil {
				return err
			}
			if !noWorker {
				a.recoverInterrupted(runCtx)
			}

			if a.log.IsLevelEnabled(logrus.DebugLevel) {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			handler := api.NewHandler(a.orch, a.cfg.Upload, a.log)
			srv := &http.Server{
				Addr:              a.cfg.Server.Port,
				Handler:           routers.InitRouter(handler, a.log),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.WithField("addr", srv.Addr).WithField("mode", describeMode(a.cfg)).Info("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-runCtx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Serve the API only; leave queued work to separate workers")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued story work from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if cfg.Queue.Mode != "asynq" {
				return errors.New("worker needs queue.mode asynq; inline mode runs work inside serve")
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := ctx.open(runCtx, modeWorker)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.startProcessor(); err != nil {
				return err
			}
			a.recoverInterrupted(runCtx)
			a.log.WithField("mode", describeMode(a.cfg)).Info("worker running")
			<-runCtx.Done()
			a.log.Info("worker stopping")
			return nil
		},
	}
}
