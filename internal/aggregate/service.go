package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/modwatch/pipeline/internal/event"
	"github.com/modwatch/pipeline/internal/messaging"
	"github.com/modwatch/pipeline/internal/metrics"
)

const sweepInterval = 30 * time.Second

// Publisher is the outbound side of the aggregator, satisfied by
// *messaging.Client.
type Publisher interface {
	Publish(queue string, data []byte) error
}

// Service consumes the three signal queues, feeds the aggregator, and
// publishes ready events.
type Service struct {
	agg    *Aggregator
	nats   *messaging.Client
	pub    Publisher
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates the aggregation service.
func NewService(nats *messaging.Client, ttl time.Duration) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		agg:    New(ttl),
		nats:   nats,
		pub:    nats,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the signal queues and starts the eviction sweep.
func (s *Service) Start() error {
	subs := []struct {
		queue string
		kind  event.SignalKind
	}{
		{messaging.QueueImages, event.KindImages},
		{messaging.QueueTranscribedAudio, event.KindTranscribedAudio},
		{messaging.QueueText, event.KindText},
	}
	for _, sub := range subs {
		kind := sub.kind
		if err := s.nats.Consume(sub.queue, "aggregator", func(data []byte) error {
			return s.handleSignal(kind, data)
		}); err != nil {
			return err
		}
	}

	go s.sweepLoop()

	log.Println("[aggregator] service started")
	return nil
}

// Stop cancels the background sweep.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[aggregator] service stopped")
}

// handleSignal is the consume handler shared by all three signal queues.
// The publish of the ready event happens before the aggregation is
// committed and before the delivery is acked: a failed publish leaves the
// pending record in place, so the redelivered signal completes the
// aggregation again instead of losing the message.
func (s *Service) handleSignal(kind event.SignalKind, data []byte) error {
	var sig event.SignalEvent
	if err := json.Unmarshal(data, &sig); err != nil {
		return fmt.Errorf("%w: unmarshal %s signal: %v", messaging.ErrDrop, kind, err)
	}

	metrics.SignalsTotal.WithLabelValues(string(kind)).Inc()

	ready, err := s.agg.Ingest(kind, &sig)
	if err != nil {
		// A signal that cannot be keyed can never complete; drop it
		// without poisoning other in-flight aggregations.
		return fmt.Errorf("%w: %v", messaging.ErrDrop, err)
	}
	if ready == nil {
		log.Printf("[aggregator] merged %s signal for message %d (pending: %d)",
			kind, sig.MessageID, s.agg.PendingCount())
		return nil
	}

	payload, err := json.Marshal(ready)
	if err != nil {
		return fmt.Errorf("aggregate: marshal ready event: %w", err)
	}
	if err := s.pub.Publish(messaging.QueueReadyInfo, payload); err != nil {
		return err
	}
	s.agg.Commit(ready.MessageID)

	log.Printf("[aggregator] message %d complete, ready event published", ready.MessageID)
	return nil
}

// sweepLoop periodically evicts stuck aggregations.
func (s *Service) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("[aggregator] sweep loop stopped")
			return
		case <-ticker.C:
			if n := s.agg.Sweep(); n > 0 {
				log.Printf("[aggregator] evicted %d stuck aggregations", n)
			}
		}
	}
}
