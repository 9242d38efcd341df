package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "transcript-pipeline-service/internal/api/grpc"
	"transcript-pipeline-service/internal/app"
	"transcript-pipeline-service/internal/config"
	"transcript-pipeline-service/internal/events"
	httpapi "transcript-pipeline-service/internal/http"
	"transcript-pipeline-service/internal/observability"
	"transcript-pipeline-service/internal/observability/metrics"
	"transcript-pipeline-service/internal/service/audio"
	"transcript-pipeline-service/internal/service/callback"
	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/service/stt"
	"transcript-pipeline-service/internal/service/stt/google"
	"transcript-pipeline-service/internal/service/stt/mock"
	"transcript-pipeline-service/internal/service/stt/watson"
	"transcript-pipeline-service/internal/service/transcript"
	"transcript-pipeline-service/internal/service/trigger"
	"transcript-pipeline-service/internal/storage"
	"transcript-pipeline-service/internal/transcode"
)

func main() {
	envFiles := config.LoadEnvFiles()
	cfg, cfgErr := config.Load()

	application := app.New(cfg)
	if cfgErr != nil {
		log.Fatal().Err(cfgErr).Msg("Failed to load configuration")
	}
	if len(envFiles) > 0 {
		log.Debug().Strs("envFiles", envFiles).Msg("Loaded environment files")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcServer := grpcapi.NewServer(metrics.DefaultMetrics)

	store, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	grpcServer.SetServing(grpcapi.ServiceStorage, true)

	provider, closeProvider, err := buildProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize STT provider")
	}
	defer closeProvider()
	grpcServer.SetServing(grpcapi.ServiceProvider, true)

	ledger, closeLedger, err := buildLedger(cfg.Ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job ledger")
	}
	defer closeLedger()

	// Kafka publisher with separate topics for job lifecycle and transcript events
	publisher := events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicJobs:        cfg.Kafka.TopicJobs,
		TopicTranscripts: cfg.Kafka.TopicTranscripts,
		Principal:        cfg.Kafka.Principal,
	})
	defer publisher.Close()

	hub := events.NewHub()
	go hub.Run(ctx)
	publisher.AttachSink(hub)
	grpcServer.SetServing(grpcapi.ServiceEvents, true)

	ingester := audio.NewHandlerWithLimits(store, provider, publisher, cfg.Service.PublicBaseURL, audio.Limits{
		MaxAudioBytes: cfg.Limits.MaxAudioBytes,
		SubmitTimeout: cfg.Limits.SubmitTimeout,
	})
	ingester.SetLedger(ledger)
	if cfg.STT.Transcode {
		ingester.SetTranscoder(&transcode.FFmpeg{Binary: cfg.STT.FFmpegPath, Format: "ogg"})
	}

	normalizer := transcript.NewNormalizer(store, publisher)
	normalizer.SetLedger(ledger)

	receiver := callback.NewReceiver(store, publisher)
	receiver.SetLedger(ledger)

	router := trigger.NewRouter(ingester, normalizer)

	var consumer *events.Consumer
	if cfg.Kafka.Enabled && cfg.Kafka.StorageTopic != "" {
		consumer = events.NewConsumer(events.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.StorageTopic,
			GroupID: cfg.Kafka.GroupID,
		}, router.HandleNotification)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Storage notification consumer stopped")
			}
		}()
	}

	httpServer := &http.Server{
		Addr: ":" + cfg.Service.HTTPPort,
		Handler: httpapi.NewRouter(application, httpapi.Services{
			Store:    store,
			Receiver: receiver,
			Editor:   transcript.NewEditor(store, publisher),
			Trigger:  router,
			Ledger:   ledger,
			Live:     hub,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	obsServer := observability.NewServer(cfg.Service.MetricsAddr, application.Ready)
	obsServer.Start()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen for gRPC")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Transcript pipeline HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}
	grpcServer.MarkServing()

	<-ctx.Done()

	application.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Warn().Err(err).Msg("Consumer close")
		}
	}
	grpcServer.Shutdown()
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown")
	}
}

func buildStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory storage, objects are lost on restart")
		return storage.Instrument(storage.NewMemoryStore(cfg.Bucket)), nil
	case "s3":
		s, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
			UsePathStyle:    cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return storage.Instrument(s), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func buildProvider(ctx context.Context, cfg *config.Configuration) (stt.Provider, func(), error) {
	noop := func() {}
	switch cfg.STT.Provider {
	case "watson":
		return watson.New(watson.Config{
			URL:           cfg.STT.URL,
			Username:      cfg.STT.Username,
			Password:      cfg.STT.Password,
			Model:         cfg.STT.Model,
			SubmitTimeout: cfg.Limits.SubmitTimeout,
		}), noop, nil
	case "google":
		gc := google.DefaultConfig()
		gc.LanguageCode = cfg.STT.LanguageCode
		gc.SampleRateHz = int32(cfg.STT.SampleRateHz)
		gc.AudioEncoding = cfg.STT.AudioEncoding
		p, err := google.New(ctx, gc)
		if err != nil {
			return nil, noop, err
		}
		return p, func() { closeQuietly("google provider", p) }, nil
	case "mock":
		p := mock.New()
		return p, p.Wait, nil
	default:
		return nil, noop, fmt.Errorf("unknown STT provider %q", cfg.STT.Provider)
	}
}

func buildLedger(cfg config.LedgerConfig) (job.Ledger, func(), error) {
	switch cfg.Driver {
	case "", "none":
		return job.NopLedger{}, func() {}, nil
	case "memory":
		return job.NewMemoryLedger(), func() {}, nil
	case "sqlite":
		l, err := job.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		return l, func() { closeQuietly("job ledger", l) }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

func closeQuietly(what string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("resource", what).Msg("Close failed")
	}
}
