package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/runner"
	"github.com/michaelbrown/pylab/internal/sandbox"
)

var runnerPortFlag int

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Start the code execution service",
	Long: `Start the execution service. It accepts POST /execute with
{"code": "...", "timeout": 30} and runs each program in a fresh interpreter
process with a private workspace and a minimal environment.

Examples:
  pylab runner
  pylab runner --port 9090`,
	RunE: runRunner,
}

func init() {
	runnerCmd.Flags().IntVar(&runnerPortFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(runnerCmd)
}

func runRunner(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, "runner")
	if err != nil {
		return err
	}
	defer log.Sync()

	sb, err := sandbox.NewProcessSandbox(cfg.Sandbox, log.Named("sandbox"))
	if err != nil {
		return fmt.Errorf("creating sandbox: %w", err)
	}
	policy := sb.Policy()
	log.Info("sandbox ready",
		zap.String("interpreter", sb.Interpreter()),
		zap.String("work_root", policy.WorkRoot),
		zap.Duration("default_timeout", policy.DefaultTimeout),
		zap.Duration("max_timeout", policy.MaxTimeout),
		zap.Int("max_concurrent", policy.MaxConcurrent))

	port := cfg.Runner.Port
	if runnerPortFlag > 0 {
		port = runnerPortFlag
	}

	srv := runner.NewServer(sb, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		// Let in-flight programs finish within their own budget.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), policy.MaxTimeout+5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("runner shutdown", zap.Error(err))
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
