package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"sync-engine/configs"
	"sync-engine/internal/dispatch"
	"sync-engine/internal/feedcache"
	"sync-engine/internal/keys"
	"sync-engine/internal/platform"
	"sync-engine/internal/policy"
	"sync-engine/internal/profile"
	"sync-engine/internal/ratelimit"
	"sync-engine/internal/shared/httpx"
	"sync-engine/internal/shared/redisx"
	"sync-engine/pkg/kafka"
)

func initOTEL(ctx context.Context) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "otel-collector:4318"
	}
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		log.Fatalf("otel exporter: %v", err)
	}

	svcName := os.Getenv("OTEL_SERVICE_NAME")
	if svcName == "" {
		svcName = "sync-engine"
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(svcName),
		attribute.String("deployment.environment", envOr("ENV", "local")),
	))

	ratio := 1.0
	if s := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); s != "" {
		if f, e := strconv.ParseFloat(s, 64); e == nil && f >= 0 && f <= 1 {
			ratio = f
		}
	}

	tp := trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown
}

func buildRegistry(cfg *configs.Config) *platform.Registry {
	return platform.NewRegistry(
		platform.NewMastodonAdapter(cfg.MastodonBaseURL, platform.Credential{Token: cfg.MastodonToken}),
		platform.NewBlueskyAdapter(cfg.BlueskyBaseURL, platform.Credential{Token: cfg.BlueskyToken}),
		platform.NewTelegramAdapter(cfg.TelegramBaseURL, platform.Credential{Token: cfg.TelegramToken}),
	)
}

func buildProfiles(cfg *configs.Config) profile.Repository {
	if os.Getenv("SYNC_DB_DISABLED") == "1" {
		log.Printf("profiles: using in-memory repository")
		return profile.NewMemoryRepository()
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	repo, err := profile.NewGormRepository(db)
	if err != nil {
		log.Fatalf("migrate db: %v", err)
	}
	return repo
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTEL := initOTEL(ctx)
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTEL(c)
	}()

	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rdb := redisx.Open(cfg)
	profiles := buildProfiles(cfg)

	// Retired keys must outlive the longest cache TTL any tier allows.
	km := keys.NewManager(2 * time.Hour)

	var cache feedcache.Store
	if os.Getenv("SYNC_CACHE") == "memory" {
		mem := feedcache.NewMemoryStore()
		mem.StartReaper(ctx, cfg.ReaperInterval)
		cache = mem
	} else {
		cache = feedcache.NewRedisStore(rdb)
	}

	limiter := ratelimit.NewRedisLimiter(rdb)

	events := dispatch.NewEventQueue(cfg.EventQueueSize)
	writer := kafka.NewWriter(cfg.KafkaBootstrap, cfg.KafkaTopic)
	defer writer.Close()
	go events.Run(ctx, writer)

	d := dispatch.NewDispatcher(
		buildRegistry(cfg),
		policy.NewEngine(),
		policy.NewBiometricGate(),
		limiter,
		km,
		cache,
		profiles,
		events,
	)
	h := dispatch.NewHandler(d, profiles)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	protected := func(pattern, span string, fn httpx.HandlerFunc) {
		mux.Handle(pattern, httpx.AuthMiddleware(otelhttp.NewHandler(httpx.Wrap(fn), span)))
	}
	protected("POST /crosspost", "sync.crosspost", h.CrossPost)
	protected("GET /feed", "sync.feed", h.Feed)
	protected("DELETE /posts/{id}", "sync.delete", h.Delete)
	protected("PUT /privacy/profile", "sync.profile.update", h.UpdateProfile)
	protected("POST /privacy/deletion", "sync.profile.deletion", h.RequestDeletion)
	protected("POST /privacy/anonymize", "sync.profile.anonymize", h.Anonymize)

	srv := &http.Server{
		Addr:              cfg.AppPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		log.Printf("sync-engine listening on %s", cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(c)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
