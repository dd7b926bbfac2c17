package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/medface/internal/api"
	"github.com/your-org/medface/internal/api/handlers"
	"github.com/your-org/medface/internal/api/ws"
	"github.com/your-org/medface/internal/config"
	"github.com/your-org/medface/internal/matcher"
	"github.com/your-org/medface/internal/models"
	"github.com/your-org/medface/internal/observability"
	"github.com/your-org/medface/internal/patients"
	"github.com/your-org/medface/internal/queue"
	"github.com/your-org/medface/internal/storage"
	"github.com/your-org/medface/internal/vision"
)

// pinger is implemented by every storage backend.
type pinger interface {
	Ping(ctx context.Context) error
}

type patientStore interface {
	patients.Store
	pinger
	Close()
}

type blobStore interface {
	patients.Blobs
	pinger
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting medface API service",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"blobs", cfg.Blobs.Driver,
		"match_mode", cfg.Matching.Mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("open patient store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		slog.Error("open blob store", "driver", cfg.Blobs.Driver, "error", err)
		os.Exit(1)
	}

	checks := map[string]handlers.Check{
		"store": store.Ping,
		"blobs": blobs.Ping,
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Activity goes through JetStream when NATS is configured; the consumer
	// feeds the hub. Otherwise the service notifies the hub directly.
	var notifier patients.Notifier = hub
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		checks["nats"] = func(context.Context) error { return producer.Ping() }

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create activity consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		err = consumer.ConsumeEvents(ctx, "api-activity", func(_ context.Context, evt models.Event) error {
			hub.BroadcastEvent(ws.ToWSEvent(evt))
			return nil
		})
		if err != nil {
			slog.Warn("start activity consumer, falling back to direct hub delivery", "error", err)
		} else {
			notifier = producer
		}
	}

	opts := []patients.Option{patients.WithNotifier(notifier)}

	// ONNX Runtime is optional: without it registration and recognition
	// answer 503 while record routes keep working.
	if err := vision.InitRuntime(); err != nil {
		slog.Warn("onnx runtime unavailable, face routes disabled", "error", err)
	} else {
		defer vision.DestroyRuntime()
		encoder, err := vision.NewEncoder(cfg.Vision)
		if err != nil {
			slog.Warn("face encoder unavailable, face routes disabled", "error", err)
		} else {
			defer encoder.Close()
			opts = append(opts, patients.WithEncoder(encoder))
			slog.Info("face encoder ready", "models_dir", cfg.Vision.ModelsDir)
		}
	}

	m := matcher.New(cfg.Matching.Tolerance, matcher.Mode(cfg.Matching.Mode), cfg.Matching.Dimension)
	svc := patients.NewService(store, blobs, m, opts...)

	router := api.NewRouter(api.RouterConfig{
		Service:     svc,
		Hub:         hub,
		Checks:      checks,
		CORSOrigins: cfg.Server.CORSOrigins,
		MaxUploadMB: cfg.Server.MaxUploadMB,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (patientStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return storage.NewPostgresStore(ctx, cfg.Database)
	default:
		return storage.NewFileStore(cfg.Storage.DataDir)
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (blobStore, error) {
	switch cfg.Blobs.Driver {
	case config.BlobsMinIO:
		s, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		return s, nil
	default:
		return storage.NewDiskStore(cfg.Blobs.UploadsDir)
	}
}
