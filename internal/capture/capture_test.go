package capture

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/modwatch/pipeline/internal/messaging"
)

func TestSnapshotTextMessage(t *testing.T) {
	msg := &tgbotapi.Message{
		MessageID: 42,
		Chat:      &tgbotapi.Chat{ID: -100},
		From:      &tgbotapi.User{ID: 7},
		Text:      "hello",
	}

	c := snapshot(msg)
	if c.MessageID != 42 || c.ChatID != -100 || c.AuthorID != 7 {
		t.Fatalf("identity fields: %+v", c)
	}
	if c.Text != "hello" {
		t.Fatalf("text = %q", c.Text)
	}
	if c.HasVideo || c.HasPhoto || c.HasAudio {
		t.Fatalf("unexpected media flags: %+v", c)
	}
}

func TestSnapshotCaptionFallsBackToText(t *testing.T) {
	msg := &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: -100},
		From:      &tgbotapi.User{ID: 7},
		Caption:   "caption text",
		Photo:     []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}

	c := snapshot(msg)
	if c.Text != "caption text" {
		t.Fatalf("text = %q, want caption", c.Text)
	}
	if !c.HasPhoto {
		t.Fatal("expected photo flag")
	}
}

func TestSnapshotReplyToChannelPost(t *testing.T) {
	msg := &tgbotapi.Message{
		MessageID: 2,
		Chat:      &tgbotapi.Chat{ID: -100},
		From:      &tgbotapi.User{ID: 7},
		Text:      "a comment",
		ReplyToMessage: &tgbotapi.Message{
			Text:       "the post",
			SenderChat: &tgbotapi.Chat{ID: -200, Type: "channel"},
		},
	}

	c := snapshot(msg)
	if !c.IsReply || !c.ReplyToChannelPost {
		t.Fatalf("reply flags: %+v", c)
	}
	if c.ReplyText != "the post" {
		t.Fatalf("reply text = %q", c.ReplyText)
	}
}

func TestQueuesForEachModality(t *testing.T) {
	cases := []struct {
		name     string
		captured *CapturedMessage
		imageIDs []string
		audioIDs []string
		want     []string
	}{
		{
			name:     "text only",
			captured: &CapturedMessage{Text: "hi"},
			want:     []string{messaging.QueueText},
		},
		{
			name:     "photo with caption",
			captured: &CapturedMessage{Text: "look", HasPhoto: true},
			imageIDs: []string{"img-1"},
			want:     []string{messaging.QueueImages, messaging.QueueText},
		},
		{
			name:     "video no caption",
			captured: &CapturedMessage{HasVideo: true},
			imageIDs: []string{"frame-1"},
			audioIDs: []string{"track-1"},
			want:     []string{messaging.QueueImages, messaging.QueueAudio},
		},
		{
			name:     "voice note",
			captured: &CapturedMessage{HasAudio: true},
			audioIDs: []string{"voice-1"},
			want:     []string{messaging.QueueAudio},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := queuesFor(tc.captured, tc.imageIDs, tc.audioIDs)
			if len(got) != len(tc.want) {
				t.Fatalf("queues = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("queues = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestSignalForCarriesAssets(t *testing.T) {
	c := &CapturedMessage{
		MessageID: 9,
		ChatID:    -100,
		AuthorID:  7,
		Text:      "caption",
		HasVideo:  true,
	}

	sig := signalFor(c, []string{"frame-1"}, []string{"track-1"})
	if sig.MessageID != 9 || !sig.HasVideo {
		t.Fatalf("signal = %+v", sig)
	}
	if len(sig.ImageIDs) != 1 || sig.ImageIDs[0] != "frame-1" {
		t.Fatalf("image ids = %v", sig.ImageIDs)
	}
	if len(sig.AudioIDs) != 1 || sig.AudioIDs[0] != "track-1" {
		t.Fatalf("audio ids = %v", sig.AudioIDs)
	}
}
