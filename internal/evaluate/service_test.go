package evaluate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modwatch/pipeline/internal/event"
	"github.com/modwatch/pipeline/internal/rules"
)

type fakeRuleSource struct {
	rules []rules.Rule
}

func (f *fakeRuleSource) ActiveRules(_ context.Context, _ int64) ([]rules.Rule, error) {
	return f.rules, nil
}

type fakeGenerator struct {
	prompts   []string
	responses []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	resp := "1. No"
	if len(f.responses) > 0 {
		resp = f.responses[0]
		f.responses = f.responses[1:]
	}
	return resp, nil
}

type fakePublisher struct {
	published [][]byte
	queues    []string
}

func (f *fakePublisher) Publish(queue string, data []byte) error {
	f.queues = append(f.queues, queue)
	f.published = append(f.published, data)
	return nil
}

func TestEvaluate_FiveRulesTwoBatches(t *testing.T) {
	source := &fakeRuleSource{rules: makeRules(5)}
	model := &fakeGenerator{responses: []string{"1. Yes\n2. No\n3. Yes", "1. No\n2. No"}}
	svc := &Service{store: source, model: model, ctx: context.Background()}

	msg := &event.ReadyEvent{MessageID: 42, ChatID: 100, AuthorID: 7, Text: "bad comment"}
	violations, err := svc.Evaluate(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(model.prompts) != 2 {
		t.Fatalf("5 rules should produce 2 separate prompts, got %d", len(model.prompts))
	}
	if model.prompts[0] == model.prompts[1] {
		t.Error("each batch should get its own prompt")
	}

	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(violations))
	}
	if violations[0].RuleID != 1 || violations[1].RuleID != 3 {
		t.Errorf("expected rules 1 and 3, got %d and %d", violations[0].RuleID, violations[1].RuleID)
	}
	for _, v := range violations {
		if v.MessageID != 42 || v.ChatID != 100 || v.AuthorID != 7 {
			t.Errorf("violation should carry message context: %+v", v)
		}
	}
}

func TestEvaluate_NoActiveRules(t *testing.T) {
	svc := &Service{store: &fakeRuleSource{}, model: &fakeGenerator{}, ctx: context.Background()}
	violations, err := svc.Evaluate(context.Background(), &event.ReadyEvent{MessageID: 1, ChatID: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if violations != nil {
		t.Errorf("expected no violations, got %v", violations)
	}
}

func TestHandleReady_PublishesViolations(t *testing.T) {
	pub := &fakePublisher{}
	svc := &Service{
		store: &fakeRuleSource{rules: makeRules(1)},
		model: &fakeGenerator{responses: []string{"1. Yes"}},
		pub:   pub,
		ctx:   context.Background(),
	}

	ready, _ := json.Marshal(&event.ReadyEvent{MessageID: 9, ChatID: 100, Text: "x"})
	if err := svc.handleReady(ready); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published violation, got %d", len(pub.published))
	}
	var v event.ViolationEvent
	if err := json.Unmarshal(pub.published[0], &v); err != nil {
		t.Fatalf("unmarshal published violation: %v", err)
	}
	if v.RuleID != 1 || v.MessageID != 9 {
		t.Errorf("unexpected violation payload: %+v", v)
	}
	if v.RuleName == "" || v.RuleDescription == "" {
		t.Error("violation should carry rule text and explanation")
	}
}
