package evaluate

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/modwatch/pipeline/internal/event"
	"github.com/modwatch/pipeline/internal/metrics"
	"github.com/modwatch/pipeline/internal/rules"
)

func makeRules(n int) []rules.Rule {
	out := make([]rules.Rule, n)
	for i := range out {
		out[i] = rules.Rule{
			ID:              int64(i + 1),
			ChatID:          100,
			RuleText:        "rule " + string(rune('a'+i)),
			ExplanationText: "explanation " + string(rune('a'+i)),
			Type:            rules.TypeNotify,
		}
	}
	return out
}

func TestPartition_FixedSizeOrderPreserving(t *testing.T) {
	batches := Partition(makeRules(5))
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].Len() != 3 || batches[1].Len() != 2 {
		t.Fatalf("unexpected batch sizes: %d, %d", batches[0].Len(), batches[1].Len())
	}
	if batches[0].Rule(1).ID != 1 || batches[0].Rule(3).ID != 3 {
		t.Error("first batch should hold rules 1-3 in order")
	}
	if batches[1].Rule(1).ID != 4 || batches[1].Rule(2).ID != 5 {
		t.Error("second batch should hold rules 4-5 in order")
	}
}

func TestPartition_Empty(t *testing.T) {
	if batches := Partition(nil); len(batches) != 0 {
		t.Fatalf("expected no batches, got %d", len(batches))
	}
}

func TestPrompt_Deterministic(t *testing.T) {
	batch := Partition(makeRules(3))[0]
	msg := &event.ReadyEvent{MessageID: 1, ChatID: 100, Text: "some comment"}

	p1 := batch.Prompt(msg)
	p2 := batch.Prompt(msg)
	if p1 != p2 {
		t.Fatal("prompt must be byte-deterministic for a fixed batch and message")
	}

	if !strings.Contains(p1, "Comment: <<<some comment>>>") {
		t.Error("prompt should fence the comment text")
	}
	if !strings.Contains(p1, "1. rule a\n2. rule b\n3. rule c\n") {
		t.Errorf("prompt should number rules in batch order:\n%s", p1)
	}
	if !strings.Contains(p1, "1. Yes/No\n2. Yes/No\n3. Yes/No\n") {
		t.Error("prompt should spell out the answer format per batch position")
	}
	if strings.Contains(p1, "replied to") {
		t.Error("non-reply message should carry no reply context")
	}
}

func TestPrompt_ReplyContext(t *testing.T) {
	batch := Partition(makeRules(1))[0]

	reply := &event.ReadyEvent{Text: "c", IsReply: true, ReplyText: "original"}
	if p := batch.Prompt(reply); !strings.Contains(p, "Text being replied to: <<<original>>>") {
		t.Error("reply to a comment should include the replied-to text")
	}

	post := &event.ReadyEvent{Text: "c", IsReply: true, ReplyText: "the post", ReplyToChannelPost: true}
	if p := batch.Prompt(post); !strings.Contains(p, "Post description: <<<the post>>>") {
		t.Error("reply to a channel post should include the post description")
	}
}

func TestPrompt_TranscriptIncluded(t *testing.T) {
	batch := Partition(makeRules(1))[0]
	msg := &event.ReadyEvent{TranscribedText: "spoken"}
	if p := batch.Prompt(msg); !strings.Contains(p, "Comment: <<<spoken>>>") {
		t.Error("transcript should stand in for absent text")
	}
}

func TestParseAnswers_YesNoMix(t *testing.T) {
	batch := Partition(makeRules(3))[0]

	violated := batch.ParseAnswers("1. Yes\n2. No\n3. Yes")
	if len(violated) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(violated))
	}
	if violated[0].ID != 1 || violated[1].ID != 3 {
		t.Errorf("expected rules 1 and 3, got %d and %d", violated[0].ID, violated[1].ID)
	}
}

func TestParseAnswers_SecondBatchIndexesLocally(t *testing.T) {
	// With 5 rules, answer "1. Yes" for the second batch must reference
	// rule 4, not rule 1.
	batches := Partition(makeRules(5))
	violated := batches[1].ParseAnswers("1. Yes\n2. No")
	if len(violated) != 1 || violated[0].ID != 4 {
		t.Fatalf("batch-local index 1 should map to rule 4, got %+v", violated)
	}
}

func TestParseAnswers_SkipsBadLines(t *testing.T) {
	batch := Partition(makeRules(3))[0]

	cases := []struct {
		name     string
		response string
		want     int
	}{
		{"garbage line", "banana\n2. Yes", 1},
		{"out of range", "7. Yes\n1. Yes", 1},
		{"zero index", "0. Yes", 0},
		{"negative", "-1. Yes", 0},
		{"other word", "1. Maybe\n2. yes", 1},
		{"elaboration", "1. Yes because it is rude\n3. Yes", 1},
		{"empty", "", 0},
		{"case insensitive", "1. YES\n2. yEs", 2},
		{"trailing punctuation", "1. Yes.", 1},
	}

	for _, tc := range cases {
		got := batch.ParseAnswers(tc.response)
		if len(got) != tc.want {
			t.Errorf("%s: expected %d violations, got %d (%v)", tc.name, tc.want, len(got), got)
		}
	}
}

func TestParseAnswers_CountsSkippedLines(t *testing.T) {
	batch := Partition(makeRules(3))[0]

	before := testutil.ToFloat64(metrics.AnswerLinesSkipped.WithLabelValues("other_word"))
	violated := batch.ParseAnswers("1. Maybe\n2. Perhaps\n3. Yes")
	after := testutil.ToFloat64(metrics.AnswerLinesSkipped.WithLabelValues("other_word"))

	if len(violated) != 1 || violated[0].ID != 3 {
		t.Fatalf("only rule 3 should be violated, got %+v", violated)
	}
	if after-before != 2 {
		t.Errorf("expected 2 other_word skips counted, got %v", after-before)
	}
}

func TestMessageText_Sources(t *testing.T) {
	both := &event.ReadyEvent{Text: "caption", TranscribedText: "speech"}
	got := messageText(both)
	if !strings.Contains(got, "caption") || !strings.Contains(got, "speech") {
		t.Errorf("both sources should appear: %q", got)
	}

	if messageText(&event.ReadyEvent{Text: "only"}) != "only" {
		t.Error("text-only message should pass through unchanged")
	}
}
