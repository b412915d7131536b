package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/config"
	"github.com/mamadbah2/labpulse/internal/repository/mongodb"
	"github.com/mamadbah2/labpulse/internal/repository/postgres"
	"github.com/mamadbah2/labpulse/internal/repository/sheets"
	"github.com/mamadbah2/labpulse/internal/scheduler"
	"github.com/mamadbah2/labpulse/internal/server/handlers"
	"github.com/mamadbah2/labpulse/internal/server/router"
	"github.com/mamadbah2/labpulse/internal/service/monitoring"
	"github.com/mamadbah2/labpulse/internal/service/notify"
	"github.com/mamadbah2/labpulse/internal/service/processing"
	"github.com/mamadbah2/labpulse/internal/source"
	"github.com/mamadbah2/labpulse/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Log.Level, cfg.Log.ServiceName))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Scheduling.Timezone)
	if err != nil {
		baseLogger.Fatal("invalid timezone", zap.String("timezone", cfg.Scheduling.Timezone), zap.Error(err))
	}

	startupCtx, cancelStartup := context.WithTimeout(ctx, 30*time.Second)
	defer cancelStartup()

	repo, err := postgres.Connect(startupCtx, cfg.Database, baseLogger.Named("repo.postgres"))
	if err != nil {
		baseLogger.Fatal("failed to init postgres repository", zap.Error(err))
	}
	defer func() {
		if err := repo.Close(); err != nil {
			baseLogger.Error("failed to close postgres pool", zap.Error(err))
		}
	}()

	if err := repo.EnsureSchema(startupCtx); err != nil {
		baseLogger.Fatal("failed to apply schema", zap.Error(err))
	}

	var sheetsRepo sheets.Repository
	if cfg.Source.Kind == config.SourceKindSheets {
		sheetsRepo, err = sheets.NewGoogleSheetRepository(startupCtx, cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
	}

	reader, err := source.New(cfg.Source, sheetsRepo)
	if err != nil {
		baseLogger.Fatal("failed to init source reader", zap.Error(err))
	}

	var (
		archive     monitoring.Archive
		alertLister handlers.AlertLister
	)
	if cfg.MongoDB.Enabled() {
		mongoArchive, err := mongodb.Connect(startupCtx, cfg.MongoDB, baseLogger.Named("repo.mongodb"))
		if err != nil {
			baseLogger.Fatal("failed to init mongodb alert archive", zap.Error(err))
		}
		defer func() {
			if err := mongoArchive.Close(context.Background()); err != nil {
				baseLogger.Error("failed to close mongodb connection", zap.Error(err))
			}
		}()
		archive, alertLister = mongoArchive, mongoArchive
	} else {
		baseLogger.Warn("MONGODB_URI not set, alert archive disabled")
	}

	channels, err := notify.BuildChannels(startupCtx, cfg.Notify, baseLogger.Named("notify"))
	if err != nil {
		baseLogger.Fatal("failed to init notification channels", zap.Error(err))
	}
	defer func() { _ = channels.Close() }()

	store := processing.StoreFunc(func(ctx context.Context) (processing.BatchWriter, error) {
		batch, err := repo.BeginBatch(ctx)
		if err != nil {
			return nil, err
		}
		return batch, nil
	})
	processingSvc := processing.NewService(store, reader, baseLogger.Named("svc.processing"))

	notifier := notify.NewNotifier(channels.Escalation, channels.Standard, baseLogger.Named("svc.notify"))
	monitoringSvc := monitoring.NewService(repo, notifier, monitoring.Options{
		WindowDays: cfg.Monitor.WindowDays,
		Thresholds: monitoring.ThresholdsFromConfig(cfg.Monitor),
		Location:   loc,
		Archive:    archive,
	}, baseLogger.Named("svc.monitoring"))

	sched := scheduler.NewScheduler(cfg.Scheduling, loc, processingSvc, monitoringSvc, baseLogger.Named("scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	sched.TriggerIngest()

	if cfg.Source.Watch && cfg.Source.Kind != config.SourceKindSheets {
		go func() {
			if err := source.Watch(ctx, cfg.Source.Path, baseLogger.Named("source.watch"), sched.TriggerIngest); err != nil {
				baseLogger.Error("source watcher stopped", zap.Error(err))
			}
		}()
	}

	pipelineHandler := handlers.NewPipelineHandler(processingSvc, monitoringSvc, repo, monitoringSvc, alertLister, baseLogger.Named("handlers.pipeline"))
	engine := router.New(pipelineHandler, baseLogger.Named("router"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Scheduling.IngestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
}
