package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// ServerOptions carries the collaborators of the HTTP server. DB, MQTT,
// Records and Sessions may be nil.
type ServerOptions struct {
	Config    *config.Config
	DB        HealthChecker
	MQTT      ConnectionStatus
	Pool      *transcribe.WorkerPool
	Service   transcribe.Service
	Records   RecordDeleter
	Sessions  SessionRecorder
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	// Health and metrics, no auth
	var queue QueueStatsSource
	if opts.Pool != nil {
		queue = opts.Pool
	}
	health := NewHealthHandler(opts.DB, opts.MQTT, queue, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		r.Route("/api/v1", func(r chi.Router) {
			NewTranscriptionHandler(TranscriptionOptions{
				Queue:        opts.Pool,
				Service:      opts.Service,
				Records:      opts.Records,
				Sessions:     opts.Sessions,
				AudioDir:     cfg.AudioDir,
				TempRoot:     cfg.TempDir,
				LogRoot:      cfg.LogDir,
				MaxUpload:    cfg.MaxUploadMB << 20,
				DefaultModel: cfg.DefaultModel,
				ModelAllowed: cfg.ModelAllowed,
				Log:          opts.Log,
			}).Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
