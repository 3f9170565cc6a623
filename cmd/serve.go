package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/profile-letterbox/internal/config"
	"github.com/MimeLyc/profile-letterbox/internal/fetcher"
	"github.com/MimeLyc/profile-letterbox/internal/httpapi"
	"github.com/MimeLyc/profile-letterbox/internal/jobs"
	"github.com/MimeLyc/profile-letterbox/internal/media"
	"github.com/MimeLyc/profile-letterbox/internal/notify"
	"github.com/MimeLyc/profile-letterbox/internal/persistence"
	"github.com/MimeLyc/profile-letterbox/internal/service"
	"github.com/MimeLyc/profile-letterbox/internal/sweeper"
	"github.com/MimeLyc/profile-letterbox/pkg/icron"
	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and the retention sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.JobsDir(), 0o755); err != nil {
		return fmt.Errorf("create jobs directory: %w", err)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	runner := media.ExecRunner{}
	normalizer := media.NewNormalizer(media.Config{
		RatioTolerance:   cfg.Media.RatioTolerance,
		VideoCanvasWidth: cfg.Media.VideoWidth,
		SkipVideo:        cfg.Media.SkipVideo,
		FfmpegBinary:     cfg.Media.FfmpegBin,
		FfprobeBinary:    cfg.Media.FfprobeBin,
		Runner:           runner,
	})
	source := fetcher.NewRateLimited(
		fetcher.NewInstaloader(cfg.Media.InstaloaderBin, runner),
		cfg.Media.FetchRatePerMinute,
	)

	var notifier service.Notifier
	if webhook := notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout); webhook.Enabled() {
		notifier = webhook
	}
	pipeline := service.NewPipeline(source, normalizer, notifier, service.PipelineConfig{
		Parallelism:   cfg.Media.Parallelism,
		KeepOriginals: cfg.Media.KeepOriginals,
	})

	queue := jobs.NewQueue(cfg.Jobs.Workers, cfg.JobsDir(), store,
		jobs.WithMaxJobs(cfg.Jobs.MaxRetained),
		jobs.WithJobTimeout(cfg.Jobs.Timeout),
	)
	queue.Start(pipeline.Execute)

	sw := sweeper.New(cfg.JobsDir(), cfg.Sweep.Retention)
	cron := icron.New()
	if _, err := sw.Schedule(cron, cfg.Sweep.Schedule); err != nil {
		queue.Stop()
		return err
	}
	cron.Start()

	srv := httpapi.NewServer(queue,
		httpapi.WithSweeper(sw),
		httpapi.WithSubmitRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow),
	)

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		<-cron.Stop().Done()
		queue.Stop()
		return fmt.Errorf("listen on %s: %w", cfg.HTTP.Addr, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err = <-serveErr:
		if err != nil {
			log.Error("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("HTTP shutdown: %v", shutdownErr)
	}
	<-cron.Stop().Done()
	queue.Stop()
	pipeline.Wait()
	log.Info("Stopped")
	return err
}

func openStore(cfg *config.Config) (jobs.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		s, err := persistence.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("Using SQLite job store at %s", cfg.Store.SQLitePath)
		return s, closeWithLog(s.Close), nil
	case config.StoreRedis:
		s, err := persistence.NewRedisStore(persistence.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		log.Info("Using Redis job store at %s", cfg.Store.RedisAddr)
		return s, closeWithLog(s.Close), nil
	default:
		log.Info("Using in-memory job store")
		return nil, func() {}, nil
	}
}

func closeWithLog(closeFn func() error) func() {
	return func() {
		if err := closeFn(); err != nil {
			log.Warn("Closing job store: %v", err)
		}
	}
}
