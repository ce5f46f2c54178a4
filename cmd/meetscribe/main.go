package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/api"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/database"
	"github.com/snarg/meetscribe/internal/ingest"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/mqttclient"
	"github.com/snarg/meetscribe/internal/storage"
	"github.com/snarg/meetscribe/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "stored upload directory (overrides AUDIO_DIR)")
	flag.StringVar(&overrides.InboxDir, "inbox-dir", "", "watch folder for new recordings (overrides INBOX_DIR)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("meetscribe starting")

	if cfg.GeminiAPIKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY is not set")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database (optional)
	var db *database.DB
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	// Chunk store
	var (
		chunks   transcribe.ChunkStore
		services []storage.BackgroundService
	)
	storeLog := log.With().Str("component", "store").Logger()
	switch cfg.ChunkStore {
	case "postgres":
		chunks = database.NewChunkStore(db)
		log.Info().Str("backend", "postgres").Msg("chunk store ready")
	default:
		blobs, bg, err := storage.New(cfg.S3, cfg.TempDir, storeLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize chunk store")
		}
		services = bg
		chunks = transcribe.NewBlobChunkStore(blobs, storeLog)
		log.Info().Str("backend", blobs.Type()).Str("root", cfg.TempDir).Msg("chunk store ready")
	}

	// MQTT (optional)
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
	}

	// Transcription pipeline
	conv := audio.NewConverter(cfg.FFmpegPath)
	if !conv.Available() {
		log.Warn().Str("ffmpeg", cfg.FFmpegPath).Msg("ffmpeg not found; only .wav and .mp3 input is supported")
	}
	gemini, err := transcribe.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}
	pipeline, err := transcribe.NewPipeline(transcribe.PipelineOptions{
		Service:      gemini,
		Store:        chunks,
		Converter:    conv,
		TempRoot:     cfg.TempDir,
		LogRoot:      cfg.LogDir,
		ChunkLength:  cfg.ChunkLength,
		Overlap:      cfg.ChunkOverlap,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		DefaultModel: cfg.DefaultModel,
		Log:          log.With().Str("component", "pipeline").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create transcription pipeline")
	}

	poolOpts := transcribe.WorkerPoolOptions{
		Transcriber: pipeline,
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		Log:         log.With().Str("component", "transcribe").Logger(),
	}
	if mqtt != nil {
		poolOpts.PublishEvent = mqtt.PublishEvent
	}
	pool := transcribe.NewWorkerPool(poolOpts)
	pool.Start()
	defer pool.Stop()

	// Metrics
	var pgPool *pgxpool.Pool
	if db != nil {
		pgPool = db.Pool
	}
	prometheus.MustRegister(metrics.NewCollector(pgPool, pool))

	// Storage maintenance
	pruner := storage.NewSessionPruner(
		[]string{cfg.TempDir, cfg.LogDir, cfg.AudioDir},
		cfg.SessionRetention, cfg.PruneInterval,
		pool.Tracker().Busy,
		log.With().Str("component", "pruner").Logger(),
	)
	if db != nil {
		pruner.OnPrune(func(cutoff time.Time) {
			pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n, err := db.PurgeSessionsBefore(pctx, cutoff)
			if err != nil {
				log.Warn().Err(err).Msg("failed to purge stale sessions")
				return
			}
			if n > 0 {
				log.Info().Int64("sessions", n).Msg("purged stale sessions")
			}
		})
	}
	services = append(services, pruner)
	for _, s := range services {
		s.Start()
	}
	defer func() {
		for _, s := range services {
			s.Stop()
		}
	}()

	// Watch folder (optional)
	if cfg.InboxDir != "" {
		watcher := ingest.NewInboxWatcher(ingest.WatcherOptions{
			InboxDir:  cfg.InboxDir,
			AudioDir:  cfg.AudioDir,
			Model:     cfg.DefaultModel,
			Submitter: pool,
			Log:       log,
		})
		if err := watcher.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start inbox watcher")
		}
		defer watcher.Stop()
	}

	// HTTP Server
	srvOpts := api.ServerOptions{
		Config:    cfg,
		Pool:      pool,
		Service:   gemini,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if deleter, ok := chunks.(api.RecordDeleter); ok {
		srvOpts.Records = deleter
	}
	if db != nil {
		srvOpts.DB = db
		srvOpts.Sessions = db
	}
	if mqtt != nil {
		srvOpts.MQTT = mqtt
	}
	srv := api.NewServer(srvOpts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("meetscribe stopped")
}
