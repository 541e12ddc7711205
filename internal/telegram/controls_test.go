package telegram

import (
	"testing"

	"github.com/modwatch/pipeline/internal/dispatch"
)

func TestParseControl_RoundTrip(t *testing.T) {
	in := dispatch.Control{ViolationID: 123, Action: dispatch.ActionUnban}
	kb := ControlKeyboard(in)

	if len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 1 {
		t.Fatalf("expected a single-button keyboard, got %+v", kb)
	}
	button := kb.InlineKeyboard[0][0]
	if button.Text != "Unban" {
		t.Errorf("unexpected label: %q", button.Text)
	}

	out, ok := ParseControl(*button.CallbackData)
	if !ok {
		t.Fatalf("control data should parse: %q", *button.CallbackData)
	}
	if out != in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestParseControl_ForeignData(t *testing.T) {
	cases := []string{"", "channel_page:2", "violation:", "violation:abc:BAN", "violation:1"}
	for _, data := range cases {
		if _, ok := ParseControl(data); ok {
			t.Errorf("%q should not parse as an action control", data)
		}
	}
}

func TestStatusBody_KeepsRuleText(t *testing.T) {
	original := "Rule violation in chat test chat:\n\nRule: no spam\nType: BAN"

	body := statusBody(original, "Banned")
	if body != original+"\n\nStatus: Banned" {
		t.Fatalf("rule text must survive the edit, got %q", body)
	}

	// A second toggle replaces the trailer instead of stacking a new one.
	body = statusBody(body, "Unbanned")
	if body != original+"\n\nStatus: Unbanned" {
		t.Fatalf("status trailer should be replaced, got %q", body)
	}
}
