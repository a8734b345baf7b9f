// Package config loads pylab settings from pylab.yaml, the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/michaelbrown/pylab/internal/logging"
	"github.com/michaelbrown/pylab/internal/orchestrator"
	"github.com/michaelbrown/pylab/internal/sandbox"
	"github.com/michaelbrown/pylab/internal/server"
)

// EnvPrefix prefixes environment overrides, e.g. PYLAB_RUNNER_URL.
const EnvPrefix = "PYLAB"

type RunnerConfig struct {
	Port  int           `mapstructure:"port"`
	URL   string        `mapstructure:"url" validate:"required,url"`
	Grace time.Duration `mapstructure:"grace"` // added to the execution budget on the client side
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DBPath string `mapstructure:"db_path" validate:"required_if=Driver sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

type Config struct {
	Log          logging.Config      `mapstructure:"log"`
	Server       server.Config       `mapstructure:"server"`
	Runner       RunnerConfig        `mapstructure:"runner"`
	Sandbox      sandbox.Policy      `mapstructure:"sandbox"`
	Orchestrator orchestrator.Config `mapstructure:"orchestrator"`
	Storage      StorageConfig       `mapstructure:"storage"`
}

// Load reads configuration. With an empty path, pylab.yaml is searched for in
// the working directory and $HOME/.pylab, and a missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pylab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pylab")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// viper lowercases map keys; environment variable names are upper case.
	cfg.Sandbox.ExtraEnv = lo.MapKeys(cfg.Sandbox.ExtraEnv, func(_ string, k string) string {
		return strings.ToUpper(k)
	})

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("server.port", 5000)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("runner.port", 8080)
	v.SetDefault("runner.url", "http://localhost:8080")
	v.SetDefault("runner.grace", "5s")

	p := sandbox.DefaultPolicy()
	v.SetDefault("sandbox.interpreter", p.Interpreter)
	v.SetDefault("sandbox.script_name", p.ScriptName)
	v.SetDefault("sandbox.work_root", p.WorkRoot)
	v.SetDefault("sandbox.default_timeout", p.DefaultTimeout)
	v.SetDefault("sandbox.max_timeout", p.MaxTimeout)
	v.SetDefault("sandbox.wait_delay", p.WaitDelay)
	v.SetDefault("sandbox.max_concurrent", p.MaxConcurrent)
	v.SetDefault("sandbox.queue_wait", p.QueueWait)
	v.SetDefault("sandbox.max_output_bytes", p.MaxOutputBytes)
	v.SetDefault("sandbox.max_memory_bytes", p.MaxMemoryBytes)
	v.SetDefault("sandbox.max_file_bytes", p.MaxFileBytes)
	v.SetDefault("sandbox.max_processes", p.MaxProcesses)
	v.SetDefault("sandbox.read_only_paths", p.ReadOnlyPaths)
	v.SetDefault("sandbox.allow_network", p.AllowNetwork)
	v.SetDefault("sandbox.extra_env", map[string]string{})

	v.SetDefault("orchestrator.default_timeout", "30s")
	v.SetDefault("orchestrator.max_code_length", orchestrator.DefaultMaxCodeLength)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".pylab", "pylab.db"))
	v.SetDefault("storage.dsn", "")
}
