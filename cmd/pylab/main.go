package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/config"
	"github.com/michaelbrown/pylab/internal/logging"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "pylab",
	Short: "pylab - sandboxed Python execution for a learning platform",
	Long: `pylab runs learner-submitted Python programs in isolated, time-bounded
processes and records graded submissions.

Run "pylab runner" for the execution service and "pylab serve" for the
learner-facing API that validates code, calls the runner and stores results.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./pylab.yaml or $HOME/.pylab/pylab.yaml)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, name string) (*zap.Logger, error) {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return log.Named(name), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
