package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/config"
	"github.com/gsarma/mailer/internal/logging"
)

type runtimeState struct {
	cfg *config.Config
	log *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rt := &runtimeState{}

	root := &cobra.Command{
		Use:           "mailer",
		Short:         "Transactional mail API and dispatch worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			rt.cfg, rt.log = cfg, log
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
		},
		// Without a subcommand MODE decides what this process runs.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.run(cmd.Context(), rt.cfg.Mode)
		},
	}

	root.AddCommand(
		modeCommand(rt, config.ModeServe, "Run the HTTP API with an embedded dispatch worker"),
		modeCommand(rt, config.ModeAPI, "Run only the HTTP API"),
		modeCommand(rt, config.ModeWorker, "Run only the dispatch worker and maintenance tasks"),
		sweepCommand(rt),
		migrateCommand(rt),
		jobsCommand(rt),
	)
	return root
}

func modeCommand(rt *runtimeState, mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.run(cmd.Context(), mode)
		},
	}
}

func sweepCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete SENT mail logs older than RETENTION_MAX_AGE once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.sweeper().RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d mail logs\n", n)
			return nil
		},
	}
}

func migrateCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.migrate(cmd.Context())
		},
	}
}

func (rt *runtimeState) run(ctx context.Context, mode string) error {
	a, err := newApp(ctx, rt.cfg, rt.log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.migrate(ctx); err != nil {
		return err
	}

	var runBackground func(context.Context)
	if mode == config.ModeWorker || mode == config.ModeServe {
		if runBackground, err = a.background(); err != nil {
			return err
		}
	}

	switch mode {
	case config.ModeWorker:
		rt.log.Info("Starting in worker-only mode")
		runBackground(ctx)
		return nil
	case config.ModeAPI:
		// API-only: no embedded worker goroutines; scale workers separately.
		rt.log.Info("Starting in api-only mode")
		return a.serveHTTP(ctx)
	case config.ModeServe:
		rt.log.Info("Starting API with embedded worker")
		ctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			runBackground(ctx)
		}()
		err := a.serveHTTP(ctx)
		cancel()
		<-done
		return err
	}
	return fmt.Errorf("unknown mode %q", mode)
}
