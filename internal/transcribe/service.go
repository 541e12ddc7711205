// Package transcribe turns audio signals into text signals. It consumes
// the audio queue, fetches the referenced audio asset, invokes the speech
// model, and republishes the signal with the transcript populated.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/modwatch/pipeline/internal/assets"
	"github.com/modwatch/pipeline/internal/event"
	"github.com/modwatch/pipeline/internal/messaging"
)

// AudioFetcher fetches stored audio assets, satisfied by *assets.Store.
type AudioFetcher interface {
	GetAudio(ctx context.Context, id string) ([]byte, error)
}

// Transcriber invokes the speech model, satisfied by *asr.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Publisher is the outbound side, satisfied by *messaging.Client.
type Publisher interface {
	Publish(queue string, data []byte) error
}

// Service is the transcription consumer.
type Service struct {
	nats   *messaging.Client
	pub    Publisher
	store  AudioFetcher
	model  Transcriber
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates the transcription service.
func NewService(nats *messaging.Client, store AudioFetcher, model Transcriber) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{nats: nats, pub: nats, store: store, model: model, ctx: ctx, cancel: cancel}
}

// Start subscribes to the audio queue.
func (s *Service) Start() error {
	if err := s.nats.Consume(messaging.QueueAudio, "transcriber", s.handleAudio); err != nil {
		return err
	}
	log.Println("[transcriber] service started")
	return nil
}

// Stop cancels in-flight work.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[transcriber] service stopped")
}

// handleAudio processes one audio signal. A missing asset is terminal:
// there is nothing a retry could fetch. A speech model failure is returned
// as-is so the broker redelivers the signal.
func (s *Service) handleAudio(data []byte) error {
	var sig event.SignalEvent
	if err := json.Unmarshal(data, &sig); err != nil {
		return fmt.Errorf("%w: unmarshal audio signal: %v", messaging.ErrDrop, err)
	}
	if len(sig.AudioIDs) == 0 {
		return fmt.Errorf("%w: audio signal for message %d has no asset ids", messaging.ErrDrop, sig.MessageID)
	}

	transcript, err := s.transcribe(s.ctx, sig.AudioIDs[0])
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			return fmt.Errorf("%w: message %d: %v", messaging.ErrDrop, sig.MessageID, err)
		}
		return fmt.Errorf("transcribe: message %d: %w", sig.MessageID, err)
	}

	out := sig
	out.TranscribedText = transcript
	payload, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("transcribe: marshal result: %w", err)
	}
	if err := s.pub.Publish(messaging.QueueTranscribedAudio, payload); err != nil {
		return err
	}

	log.Printf("[transcriber] message %d transcribed (%d chars)", sig.MessageID, len(transcript))
	return nil
}

// transcribe composes the asset fetch and the model call.
func (s *Service) transcribe(ctx context.Context, assetID string) (string, error) {
	audio, err := s.store.GetAudio(ctx, assetID)
	if err != nil {
		return "", err
	}
	return s.model.Transcribe(ctx, audio)
}
