package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/api"
	"github.com/gsarma/mailer/internal/config"
	"github.com/gsarma/mailer/internal/email"
	"github.com/gsarma/mailer/internal/mail"
	"github.com/gsarma/mailer/internal/maintenance"
	"github.com/gsarma/mailer/internal/queue"
	"github.com/gsarma/mailer/internal/store"
	"github.com/gsarma/mailer/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// app holds the process-wide collaborators shared by every mode.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	pool   *pgxpool.Pool
	rdb    *redis.Client
	logs   *store.MailLogs
	queue  queue.Backend
	health map[string]api.Pinger
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	pool, err := store.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		log:    log,
		pool:   pool,
		logs:   store.NewMailLogs(pool),
		health: map[string]api.Pinger{"postgres": pool},
	}

	switch cfg.QueueBackend {
	case config.QueueRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.queue = queue.NewRedis(a.rdb, cfg.RedisPrefix, cfg.QueuePolicy())
		a.health["redis"] = redisPinger{a.rdb}
	default:
		a.queue = queue.NewPostgres(pool, cfg.QueuePolicy())
	}

	log.Info("Connected",
		zap.String("queue", a.queue.Name()),
		zap.Int32("maxConns", cfg.DatabaseMaxConns))
	return a, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	a.pool.Close()
}

func (a *app) migrate(ctx context.Context) error {
	if err := store.Migrate(ctx, a.pool); err != nil {
		return err
	}
	a.log.Info("Schema applied")
	return nil
}

func (a *app) sweeper() *maintenance.Sweeper {
	return maintenance.NewSweeper(a.logs, a.cfg.RetentionMaxAge, a.log.Sugar())
}

// serveHTTP runs the API until ctx is cancelled, then drains in-flight requests.
func (a *app) serveHTTP(ctx context.Context) error {
	svc := mail.NewService(a.logs, a.queue, a.cfg.AppName, a.log.Sugar())

	router := api.NewRouter(a.log)
	api.RegisterRoutes(router, api.NewHandler(svc, a.health, a.log.Sugar()), a.cfg.APIKeys)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// background builds the dispatch worker and the maintenance tasks. The
// returned function runs them until ctx is cancelled.
func (a *app) background() (func(ctx context.Context), error) {
	provider, err := email.NewProvider(a.cfg.Email, a.log.Sugar())
	if err != nil {
		return nil, fmt.Errorf("mail provider: %w", err)
	}

	processor := mail.NewProcessor(
		a.logs,
		email.NewRenderer(a.cfg.AppBaseURL, a.log.Sugar()),
		provider,
		mail.ProcessorConfig{
			Sender:         a.cfg.Sender(),
			MaxAttempts:    a.cfg.MaxAttempts,
			AttemptTimeout: a.cfg.AttemptTimeout,
			ProviderName:   a.cfg.Email.Provider,
		},
		a.log.Sugar(),
	)

	w := worker.New(a.queue, processor, worker.Config{
		Concurrency:  a.cfg.WorkerConcurrency,
		PollInterval: a.cfg.WorkerPollInterval,
		Policy:       a.cfg.QueuePolicy(),
	}, a.log.Sugar())

	tasks := []maintenance.Scheduled{
		{Task: a.sweeper(), Interval: a.cfg.RetentionInterval},
		{
			Task:     maintenance.NewReconciler(a.logs, a.queue, a.cfg.ReconcileGrace, a.log.Sugar()),
			Interval: a.cfg.ReconcileInterval,
		},
	}

	return func(ctx context.Context) {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
		go func() {
			defer wg.Done()
			maintenance.Run(ctx, a.log.Sugar(), tasks...)
		}()
		wg.Wait()
	}, nil
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
