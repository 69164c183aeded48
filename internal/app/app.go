package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mailflow/internal/audit"
	"mailflow/internal/classifier"
	"mailflow/internal/config"
	"mailflow/internal/db"
	"mailflow/internal/dedup"
	"mailflow/internal/dispatch"
	"mailflow/internal/handlers"
	"mailflow/internal/lock"
	"mailflow/internal/metrics"
	"mailflow/internal/pipeline"
	"mailflow/internal/processing"
	"mailflow/internal/repository"
	"mailflow/internal/scheduler"
	"mailflow/internal/server"
	"mailflow/internal/source"
	"mailflow/internal/workflow"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	configureLogging(cfg.Log)

	logrus.Info("Starting mailflow")

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	repo := repository.New(dbConn)
	sink := audit.NewGormSink(dbConn)

	src, err := newSource(cfg.Mail)
	if err != nil {
		return err
	}

	var processor dispatch.Processor
	if cfg.Processing.BaseURL != "" {
		processor = processing.NewClient(cfg.Processing.BaseURL, cfg.Processing.Timeout)
	} else {
		logrus.Warn("No processing service configured, document_processing steps will not be called")
	}
	dispatcher := dispatch.NewDispatcher(repo, processor, sink, m, cfg.Pipeline.AuditUser)

	deps := pipeline.Deps{
		Source:     src,
		Gate:       dedup.NewGate(repo, sink, cfg.Pipeline.AuditUser),
		Classifier: classifier.NewOpenAIClassifier(cfg.Classifier),
		Store:      repo,
		Matcher:    workflow.NewMatcher(repo),
		Dispatcher: dispatcher,
		Audit:      sink,
		Metrics:    m,
	}

	var redisClient *redis.Client
	if cfg.Lock.RedisAddr != "" {
		redisClient, err = lock.NewRedisClient(context.Background(), cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB)
		if err != nil {
			return err
		}
		deps.Lock = lock.NewRedis(redisClient, cfg.Lock.Key, cfg.Lock.TTL)
		logrus.Infof("Using shared ingestion lock %s", cfg.Lock.Key)
	}

	ingestion := pipeline.New(deps, pipeline.Options{
		Lookback:  cfg.Pipeline.Lookback,
		PageSize:  cfg.Pipeline.PageSize,
		Topics:    cfg.Pipeline.Topics,
		AuditUser: cfg.Pipeline.AuditUser,
	})

	sched := scheduler.NewScheduler(m)
	job := scheduler.JobSpec{
		Name:     cfg.Scheduler.JobName,
		Interval: cfg.Scheduler.Interval,
		Cron:     cfg.Scheduler.Cron,
	}

	h := handlers.NewHandlers(dbConn, sched, job, ingestion, repo, prometheus.DefaultGatherer)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.AutoStart {
		if _, err := sched.ScheduleSpec(job, ingestion.Tick); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.CancelAll()
	sched.Wait()
	dispatcher.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := src.Close(); err != nil {
		logrus.Errorf("Failed to close mail source: %v", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logrus.Errorf("Failed to close redis client: %v", err)
		}
	}
	if sqlDB, err := dbConn.DB(); err == nil {
		sqlDB.Close()
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

func newSource(cfg config.MailConfig) (source.MessageSource, error) {
	if cfg.Provider == "imap" {
		src, err := source.NewIMAPSource(&cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create IMAP source: %w", err)
		}
		logrus.Info("Using IMAP for email fetching")
		return src, nil
	}

	src, err := source.NewGmailSource(context.Background(), &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail API source: %w", err)
	}
	logrus.Info("Using Gmail API for email fetching")
	return src, nil
}

func configureLogging(cfg config.LogConfig) {
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
