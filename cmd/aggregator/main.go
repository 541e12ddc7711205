package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/modwatch/pipeline/internal/aggregate"
	"github.com/modwatch/pipeline/internal/messaging"
	"github.com/modwatch/pipeline/internal/metrics"
)

func main() {
	_ = godotenv.Load()
	log.Println("Starting modwatch aggregator...")

	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "modwatch-aggregator"

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	ttl := aggregate.DefaultPendingTTL
	if v := os.Getenv("PENDING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			ttl = d
		}
	}

	metricsAddr := ":9101"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		if err := metrics.Serve(metricsAddr); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	svc := aggregate.NewService(natsClient, ttl)
	if err := svc.Start(); err != nil {
		log.Fatalf("failed to start aggregation service: %v", err)
	}

	log.Printf("modwatch aggregator running")
	log.Printf("  nats_url:     %s", natsConfig.URL)
	log.Printf("  pending_ttl:  %s", ttl)
	log.Printf("  metrics_addr: %s", metricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	svc.Stop()
	natsClient.Close()
	log.Println("aggregator stopped")
}
