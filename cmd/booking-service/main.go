package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartqueue/booking-service/internal/config"
	"smartqueue/booking-service/internal/engine"
	"smartqueue/booking-service/internal/httpapi"
	"smartqueue/booking-service/internal/store/postgres"
	"smartqueue/booking-service/internal/telemetry"
	"smartqueue/booking-service/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	shutdownTracing := telemetry.Setup("booking-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	eng := engine.New(st, engine.Options{
		AlmostFullRatio: cfg.AlmostFullRatio(),
		WindowDays:      cfg.HistogramWindowDays,
	})
	handler := httpapi.NewHandler(eng, st)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		ActorPerMinute: cfg.ActorRateLimitPerMinute,
		ActorBurst:     cfg.ActorRateLimitBurst,
	})

	routes := httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes()))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(routes, "booking-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.NotifyURL != "" && cfg.NotifyInterval > 0 {
		dispatcher := worker.New(st, worker.Config{
			TargetURL: cfg.NotifyURL,
			BatchSize: cfg.NotifyBatchSize,
		})
		go worker.Start(workerCtx, cfg.NotifyInterval, dispatcher)
	}

	go func() {
		log.Printf("booking-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
