package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/modwatch/pipeline/internal/asr"
	"github.com/modwatch/pipeline/internal/assets"
	"github.com/modwatch/pipeline/internal/messaging"
	"github.com/modwatch/pipeline/internal/metrics"
	"github.com/modwatch/pipeline/internal/transcribe"
)

func main() {
	_ = godotenv.Load()
	log.Println("Starting modwatch transcriber...")

	// Redis setup.
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "modwatch-transcriber"

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	asrURL := "http://localhost:9000/transcribe"
	if v := os.Getenv("ASR_URL"); v != "" {
		asrURL = v
	}
	asrTimeout := 2 * time.Minute
	if v := os.Getenv("ASR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			asrTimeout = d
		}
	}

	metricsAddr := ":9102"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		if err := metrics.Serve(metricsAddr); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	svc := transcribe.NewService(natsClient, assets.NewStore(rdb), asr.NewClient(asrURL, asrTimeout))
	if err := svc.Start(); err != nil {
		log.Fatalf("failed to start transcription service: %v", err)
	}

	log.Printf("modwatch transcriber running")
	log.Printf("  redis_addr:   %s", redisAddr)
	log.Printf("  nats_url:     %s", natsConfig.URL)
	log.Printf("  asr_url:      %s", asrURL)
	log.Printf("  metrics_addr: %s", metricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	svc.Stop()
	natsClient.Close()
	if err := rdb.Close(); err != nil {
		log.Printf("redis close: %v", err)
	}
	log.Println("transcriber stopped")
}
