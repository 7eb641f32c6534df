package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/bootstrap"
	"github.com/kirillkom/bidmatch/internal/config"
	"github.com/kirillkom/bidmatch/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cliEnv carries the persistent flags shared by every subcommand.
type cliEnv struct {
	configFile string
	logLevel   string
}

func rootCmd() *cobra.Command {
	env := &cliEnv{}
	root := &cobra.Command{
		Use:          "bidmatch",
		Short:        "Index announcements, match teams and draft estimates",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			if env.configFile != "" {
				return os.Setenv("CONFIG_FILE", env.configFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&env.configFile, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	root.PersistentFlags().StringVar(&env.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		processCmd(env),
		searchCmd(env),
		mcpCmd(env),
		candidatesCmd(env),
	)
	return root
}

// session is a fully wired single-process app. Analysis jobs are consumed
// by in-process workers so nothing else needs to run besides the stores.
type session struct {
	app    *bootstrap.App
	logger *zap.Logger
	stop   func()
}

func (e *cliEnv) open(ctx context.Context, withWorkers bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if e.logLevel != "" {
		cfg.LogLevel = e.logLevel
	}
	logger, err := logging.NewLogger("cli", cfg.LogLevel, true)
	if err != nil {
		return nil, err
	}
	restore := logging.Install(logger)

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "cli", InProcess: true}, logger)
	if err != nil {
		restore()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	workersCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	if withWorkers {
		go func() {
			defer close(done)
			if err := app.RunWorkers(workersCtx, nil); err != nil && workersCtx.Err() == nil {
				logger.Error("cli_workers_stopped", zap.Error(err))
			}
		}()
	} else {
		close(done)
	}

	return &session{
		app:    app,
		logger: logger,
		stop: func() {
			cancel()
			app.Close()
			<-done
			_ = logger.Sync()
			restore()
		},
	}, nil
}
