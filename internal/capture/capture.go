// Package capture is the pipeline's entry stage. It watches activated
// group chats through the Telegram bot connection, records each message's
// author and text, stores extracted media assets, and publishes one signal
// event per present modality onto the multimedia queues. It also hosts the
// moderator-facing callback loop for violation action controls.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/modwatch/pipeline/internal/assets"
	"github.com/modwatch/pipeline/internal/dispatch"
	"github.com/modwatch/pipeline/internal/event"
	"github.com/modwatch/pipeline/internal/media"
	"github.com/modwatch/pipeline/internal/messaging"
	"github.com/modwatch/pipeline/internal/rules"
	"github.com/modwatch/pipeline/internal/telegram"
)

// CapturedMessage is the immutable snapshot of one monitored message; the
// message id is the aggregation key downstream.
type CapturedMessage struct {
	MessageID int64
	ChatID    int64
	AuthorID  int64
	Text      string
	HasVideo  bool
	HasPhoto  bool
	HasAudio  bool

	IsReply            bool
	ReplyText          string
	ReplyToChannelPost bool
}

// Publisher is the outbound side, satisfied by *messaging.Client.
type Publisher interface {
	Publish(queue string, data []byte) error
}

// Service is the capture stage.
type Service struct {
	gateway   *telegram.Gateway
	store     *rules.Store
	blobs     *assets.Store
	pub       Publisher
	extractor *media.Extractor
	decisions *dispatch.Decisions
}

// NewService creates the capture service.
func NewService(gateway *telegram.Gateway, store *rules.Store, blobs *assets.Store, pub Publisher, decisions *dispatch.Decisions) *Service {
	return &Service{
		gateway:   gateway,
		store:     store,
		blobs:     blobs,
		pub:       pub,
		extractor: media.NewExtractor(),
		decisions: decisions,
	}
}

// Run consumes the bot update stream until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.gateway.Bot().GetUpdatesChan(u)

	log.Println("[capture] update loop started")
	for {
		select {
		case <-ctx.Done():
			s.gateway.Bot().StopReceivingUpdates()
			log.Println("[capture] update loop stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.handleUpdate(ctx, update)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		s.gateway.HandleCallback(ctx, s.decisions, update.CallbackQuery)
	case update.MyChatMember != nil:
		s.handleMembership(ctx, update.MyChatMember)
	case update.Message != nil:
		if err := s.handleMessage(ctx, update.Message); err != nil {
			log.Printf("[capture] message %d: %v", update.Message.MessageID, err)
		}
	}
}

// handleMembership records the bot's standing in a chat whenever it
// changes, including the permission bits monitoring depends on.
func (s *Service) handleMembership(ctx context.Context, ev *tgbotapi.ChatMemberUpdated) {
	member := ev.NewChatMember
	isIn := member.Status == "member" || member.Status == "administrator"
	canRestrict := member.Status == "administrator" && member.CanRestrictMembers
	canRead := isIn

	if err := s.store.UpsertChat(ctx, ev.Chat.ID, ev.Chat.Title, canRead, canRestrict, isIn); err != nil {
		log.Printf("[capture] record chat %d: %v", ev.Chat.ID, err)
		return
	}
	log.Printf("[capture] chat %d (%s): status=%s can_restrict=%v",
		ev.Chat.ID, ev.Chat.Title, member.Status, canRestrict)
}

// handleMessage captures one monitored message: filters unmonitored chats
// and empty messages, persists the author and message record, extracts
// and stores media assets, and publishes the modality signals.
func (s *Service) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil || msg.Chat == nil {
		return nil
	}

	readable, err := s.store.ChatReadable(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	if !readable {
		return nil
	}

	captured := snapshot(msg)
	// A message with no text and no media has nothing to moderate and
	// must not enter the pipeline.
	if captured.Text == "" && !captured.HasVideo && !captured.HasPhoto && !captured.HasAudio {
		return nil
	}

	if err := s.store.UpsertUser(ctx, msg.From.ID, msg.From.UserName, msg.From.FirstName+" "+msg.From.LastName); err != nil {
		return err
	}
	if err := s.store.AddViolatorMessage(ctx, &rules.ViolatorMessage{
		MessageID: captured.MessageID,
		ChatID:    captured.ChatID,
		AuthorID:  captured.AuthorID,
		Text:      captured.Text,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}

	imageIDs, audioIDs, err := s.extractMedia(ctx, msg, captured)
	if err != nil {
		return err
	}

	return s.publishSignals(captured, imageIDs, audioIDs)
}

// snapshot builds the immutable captured view of a Telegram message.
func snapshot(msg *tgbotapi.Message) *CapturedMessage {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	c := &CapturedMessage{
		MessageID: int64(msg.MessageID),
		ChatID:    msg.Chat.ID,
		AuthorID:  msg.From.ID,
		Text:      text,
		HasVideo:  msg.Video != nil,
		HasPhoto:  len(msg.Photo) > 0,
		HasAudio:  msg.Audio != nil || msg.Voice != nil,
	}

	if reply := msg.ReplyToMessage; reply != nil {
		c.IsReply = true
		c.ReplyText = reply.Text
		if c.ReplyText == "" {
			c.ReplyText = reply.Caption
		}
		c.ReplyToChannelPost = reply.SenderChat != nil && reply.SenderChat.Type == "channel"
	}
	return c
}

// extractMedia downloads the message's media, extracts derived assets,
// and stores them, returning the stored asset ids.
func (s *Service) extractMedia(ctx context.Context, msg *tgbotapi.Message, captured *CapturedMessage) (imageIDs, audioIDs []string, err error) {
	if msg.Video != nil {
		frameID, trackID, err := s.processVideo(ctx, msg.Video.FileID)
		if err != nil {
			return nil, nil, err
		}
		imageIDs = append(imageIDs, frameID)
		audioIDs = append(audioIDs, trackID)
	}

	if len(msg.Photo) > 0 {
		// Telegram lists photo sizes smallest first; store the largest.
		largest := msg.Photo[len(msg.Photo)-1]
		data, err := s.download(ctx, largest.FileID)
		if err != nil {
			return nil, nil, err
		}
		id, err := s.blobs.PutImage(ctx, data)
		if err != nil {
			return nil, nil, err
		}
		imageIDs = append(imageIDs, id)
	}

	if msg.Audio != nil || msg.Voice != nil {
		fileID := ""
		if msg.Audio != nil {
			fileID = msg.Audio.FileID
		} else {
			fileID = msg.Voice.FileID
		}
		data, err := s.download(ctx, fileID)
		if err != nil {
			return nil, nil, err
		}
		id, err := s.blobs.PutAudio(ctx, data)
		if err != nil {
			return nil, nil, err
		}
		audioIDs = append(audioIDs, id)
	}

	return imageIDs, audioIDs, nil
}

// processVideo downloads a video to a temp file and extracts its middle
// frame and audio track into the asset store.
func (s *Service) processVideo(ctx context.Context, fileID string) (frameID, trackID string, err error) {
	data, err := s.download(ctx, fileID)
	if err != nil {
		return "", "", err
	}

	tmp, err := os.CreateTemp("", "video-*.mp4")
	if err != nil {
		return "", "", fmt.Errorf("capture: temp video: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", "", fmt.Errorf("capture: write temp video: %w", err)
	}
	tmp.Close()

	frame, err := s.extractor.Frame(ctx, path)
	if err != nil {
		return "", "", err
	}
	track, err := s.extractor.Audio(ctx, path)
	if err != nil {
		return "", "", err
	}

	frameID, err = s.blobs.PutImage(ctx, frame)
	if err != nil {
		return "", "", err
	}
	trackID, err = s.blobs.PutAudio(ctx, track)
	if err != nil {
		return "", "", err
	}
	return frameID, trackID, nil
}

// download fetches a Telegram file's bytes.
func (s *Service) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := s.gateway.Bot().GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("capture: file url %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: build download: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture: download %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("capture: download %s: status %d", fileID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("capture: read download: %w", err)
	}
	return data, nil
}

// publishSignals emits one signal event per present modality. Each queue
// only receives the signal when its modality actually produced content.
func (s *Service) publishSignals(captured *CapturedMessage, imageIDs, audioIDs []string) error {
	sig := signalFor(captured, imageIDs, audioIDs)

	for _, queue := range queuesFor(captured, imageIDs, audioIDs) {
		payload, err := json.Marshal(sig)
		if err != nil {
			return fmt.Errorf("capture: marshal signal: %w", err)
		}
		if err := s.pub.Publish(queue, payload); err != nil {
			return err
		}
		log.Printf("[capture] message %d signal published to %s", captured.MessageID, queue)
	}
	return nil
}

// signalFor builds the shared signal payload for a captured message.
func signalFor(c *CapturedMessage, imageIDs, audioIDs []string) *event.SignalEvent {
	return &event.SignalEvent{
		MessageID:          c.MessageID,
		ChatID:             c.ChatID,
		AuthorID:           c.AuthorID,
		Text:               c.Text,
		HasVideo:           c.HasVideo,
		HasPhoto:           c.HasPhoto,
		HasAudio:           c.HasAudio,
		ImageIDs:           imageIDs,
		AudioIDs:           audioIDs,
		IsReply:            c.IsReply,
		ReplyText:          c.ReplyText,
		ReplyToChannelPost: c.ReplyToChannelPost,
	}
}

// queuesFor decides which queues a captured message's signal goes to.
func queuesFor(c *CapturedMessage, imageIDs, audioIDs []string) []string {
	var queues []string
	if len(imageIDs) > 0 {
		queues = append(queues, messaging.QueueImages)
	}
	if len(audioIDs) > 0 {
		queues = append(queues, messaging.QueueAudio)
	}
	if c.Text != "" {
		queues = append(queues, messaging.QueueText)
	}
	return queues
}
