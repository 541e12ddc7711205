package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/modwatch/pipeline/internal/assets"
	"github.com/modwatch/pipeline/internal/event"
	"github.com/modwatch/pipeline/internal/messaging"
)

type fakeFetcher struct {
	blobs map[string][]byte
}

func (f *fakeFetcher) GetAudio(_ context.Context, id string) ([]byte, error) {
	data, ok := f.blobs[id]
	if !ok {
		return nil, fmt.Errorf("assets: audio %s: %w", id, assets.ErrNotFound)
	}
	return data, nil
}

type fakeModel struct {
	transcript string
	err        error
	calls      int
}

func (f *fakeModel) Transcribe(_ context.Context, _ []byte) (string, error) {
	f.calls++
	return f.transcript, f.err
}

type fakePublisher struct {
	queue   string
	payload []byte
}

func (f *fakePublisher) Publish(queue string, data []byte) error {
	f.queue = queue
	f.payload = data
	return nil
}

func newTestService(store AudioFetcher, model Transcriber, pub Publisher) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{pub: pub, store: store, model: model, ctx: ctx, cancel: cancel}
}

func TestHandleAudioRepublishesTranscript(t *testing.T) {
	store := &fakeFetcher{blobs: map[string][]byte{"track-1": []byte("mp3 bytes")}}
	model := &fakeModel{transcript: "hello from the audio"}
	pub := &fakePublisher{}
	svc := newTestService(store, model, pub)

	sig := event.SignalEvent{MessageID: 42, ChatID: -100, AuthorID: 7, AudioIDs: []string{"track-1"}}
	data, _ := json.Marshal(&sig)
	if err := svc.handleAudio(data); err != nil {
		t.Fatalf("handleAudio: %v", err)
	}

	if pub.queue != messaging.QueueTranscribedAudio {
		t.Fatalf("published to %q", pub.queue)
	}
	var out event.SignalEvent
	if err := json.Unmarshal(pub.payload, &out); err != nil {
		t.Fatalf("unmarshal published: %v", err)
	}
	if out.TranscribedText != "hello from the audio" {
		t.Fatalf("transcript = %q", out.TranscribedText)
	}
	if out.MessageID != 42 || out.ChatID != -100 {
		t.Fatalf("identity fields lost: %+v", out)
	}
}

func TestHandleAudioMissingAssetIsTerminal(t *testing.T) {
	store := &fakeFetcher{blobs: map[string][]byte{}}
	model := &fakeModel{}
	pub := &fakePublisher{}
	svc := newTestService(store, model, pub)

	sig := event.SignalEvent{MessageID: 1, AudioIDs: []string{"gone"}}
	data, _ := json.Marshal(&sig)
	err := svc.handleAudio(data)
	if !errors.Is(err, messaging.ErrDrop) {
		t.Fatalf("err = %v, want ErrDrop", err)
	}
	if model.calls != 0 {
		t.Fatal("model called despite missing asset")
	}
	if pub.queue != "" {
		t.Fatal("published despite missing asset")
	}
}

func TestHandleAudioModelFailureRedelivers(t *testing.T) {
	store := &fakeFetcher{blobs: map[string][]byte{"track-1": []byte("x")}}
	model := &fakeModel{err: errors.New("model offline")}
	pub := &fakePublisher{}
	svc := newTestService(store, model, pub)

	sig := event.SignalEvent{MessageID: 1, AudioIDs: []string{"track-1"}}
	data, _ := json.Marshal(&sig)
	err := svc.handleAudio(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, messaging.ErrDrop) {
		t.Fatal("model failure must stay redeliverable, got ErrDrop")
	}
}

func TestHandleAudioBadPayloadIsTerminal(t *testing.T) {
	svc := newTestService(&fakeFetcher{}, &fakeModel{}, &fakePublisher{})

	if err := svc.handleAudio([]byte("not json")); !errors.Is(err, messaging.ErrDrop) {
		t.Fatalf("err = %v, want ErrDrop", err)
	}
}

func TestHandleAudioNoAssetIDsIsTerminal(t *testing.T) {
	svc := newTestService(&fakeFetcher{}, &fakeModel{}, &fakePublisher{})

	sig := event.SignalEvent{MessageID: 5}
	data, _ := json.Marshal(&sig)
	if err := svc.handleAudio(data); !errors.Is(err, messaging.ErrDrop) {
		t.Fatalf("err = %v, want ErrDrop", err)
	}
}
