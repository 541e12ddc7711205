package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/modwatch/pipeline/internal/event"
	"github.com/modwatch/pipeline/internal/messaging"
	"github.com/modwatch/pipeline/internal/metrics"
	"github.com/modwatch/pipeline/internal/rules"
)

// RuleSource loads a chat's active rules, satisfied by *rules.Store.
type RuleSource interface {
	ActiveRules(ctx context.Context, chatID int64) ([]rules.Rule, error)
}

// Generator invokes the inference endpoint, satisfied by *llm.Client.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Publisher is the outbound side, satisfied by *messaging.Client.
type Publisher interface {
	Publish(queue string, data []byte) error
}

// Service consumes ready events and publishes violation events.
type Service struct {
	nats   *messaging.Client
	pub    Publisher
	store  RuleSource
	model  Generator
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates the rule evaluation service.
func NewService(nats *messaging.Client, store RuleSource, model Generator) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{nats: nats, pub: nats, store: store, model: model, ctx: ctx, cancel: cancel}
}

// Start subscribes to the ready-event queue.
func (s *Service) Start() error {
	if err := s.nats.Consume(messaging.QueueReadyInfo, "evaluator", s.handleReady); err != nil {
		return err
	}
	log.Println("[evaluator] service started")
	return nil
}

// Stop cancels in-flight work.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[evaluator] service stopped")
}

// handleReady evaluates one merged message against its chat's rules.
// Infra failures (rule fetch, model call, publish) are returned so the
// broker redelivers; an empty rule set acks and drops.
func (s *Service) handleReady(data []byte) error {
	var msg event.ReadyEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: unmarshal ready event: %v", messaging.ErrDrop, err)
	}

	violations, err := s.Evaluate(s.ctx, &msg)
	if err != nil {
		return err
	}

	for _, v := range violations {
		payload, err := json.Marshal(&v)
		if err != nil {
			return fmt.Errorf("evaluate: marshal violation: %w", err)
		}
		if err := s.pub.Publish(messaging.QueueRuleMatch, payload); err != nil {
			return err
		}
		log.Printf("[evaluator] violation of rule %d published for message %d", v.RuleID, v.MessageID)
	}
	return nil
}

// Evaluate runs all rule batches for one message and returns the detected
// violations. Batches are evaluated in order; a model failure aborts the
// whole message so the broker can retry it as a unit.
func (s *Service) Evaluate(ctx context.Context, msg *event.ReadyEvent) ([]event.ViolationEvent, error) {
	active, err := s.store.ActiveRules(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		log.Printf("[evaluator] no active rules for chat %d", msg.ChatID)
		return nil, nil
	}

	batches := Partition(active)
	log.Printf("[evaluator] message %d: %d rules in %d batches", msg.MessageID, len(active), len(batches))

	var out []event.ViolationEvent
	for i, batch := range batches {
		response, err := s.model.Generate(ctx, batch.Prompt(msg))
		if err != nil {
			return nil, fmt.Errorf("evaluate: batch %d for message %d: %w", i+1, msg.MessageID, err)
		}

		for _, r := range batch.ParseAnswers(response) {
			metrics.ViolationsTotal.WithLabelValues(r.Type).Inc()
			out = append(out, event.ViolationEvent{
				RuleID:          r.ID,
				RuleName:        r.RuleText,
				RuleDescription: r.ExplanationText,
				MessageID:       msg.MessageID,
				ChatID:          msg.ChatID,
				AuthorID:        msg.AuthorID,
			})
		}
	}
	return out, nil
}
