package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/orchestrator"
	"github.com/michaelbrown/pylab/internal/runner"
	"github.com/michaelbrown/pylab/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the learner-facing API",
	Long: `Start the orchestrator HTTP server with REST API and WebSocket support.

Code is validated, executed through the runner at runner.url, and submissions
are stored in the configured database. API endpoints are under /api.

Examples:
  pylab serve
  pylab serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, "orchestrator")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	client := runner.NewClient(cfg.Runner.URL, cfg.Runner.Grace)
	svc := orchestrator.NewService(client, store, log, cfg.Orchestrator)

	if !svc.RunnerHealthy(ctx) {
		log.Warn("execution service not reachable yet", zap.String("url", cfg.Runner.URL))
	}

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(svc, log, cfg.Server.CORSOrigins)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Warn("orchestrator shutdown", zap.Error(err))
		}
	}()

	err = srv.Start(port)
	stop()
	<-shutdownDone
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
