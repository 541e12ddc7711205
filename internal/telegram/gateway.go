// Package telegram implements the chat-platform gateway on the Telegram
// Bot API: forwarding and sending moderator notifications with inline
// action controls, deleting offending messages, and restricting or
// unrestricting their authors. It also routes incoming callback queries
// from action controls back into the decision applier.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/modwatch/pipeline/internal/dispatch"
)

// Gateway implements dispatch.Gateway on a Telegram bot connection.
type Gateway struct {
	bot *tgbotapi.BotAPI
}

// NewGateway authorises against the Bot API with the given token.
func NewGateway(token string) (*Gateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize: %w", err)
	}
	return &Gateway{bot: bot}, nil
}

// Bot exposes the underlying API client for the capture update loop.
func (g *Gateway) Bot() *tgbotapi.BotAPI { return g.bot }

// Forward copies the offending message to a moderator's private chat.
func (g *Gateway) Forward(_ context.Context, fromChatID, messageID, targetID int64) error {
	fwd := tgbotapi.NewForward(targetID, fromChatID, int(messageID))
	if _, err := g.bot.Send(fwd); err != nil {
		return fmt.Errorf("telegram: forward message %d: %w", messageID, err)
	}
	return nil
}

// Send delivers text to a user, attaching the action control as an inline
// keyboard when one is given.
func (g *Gateway) Send(_ context.Context, targetID int64, text string, control *dispatch.Control) error {
	msg := tgbotapi.NewMessage(targetID, text)
	if control != nil {
		msg.ReplyMarkup = ControlKeyboard(*control)
	}
	if _, err := g.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", targetID, err)
	}
	return nil
}

// Delete removes a message from a chat.
func (g *Gateway) Delete(_ context.Context, chatID, messageID int64) error {
	if _, err := g.bot.Request(tgbotapi.NewDeleteMessage(chatID, int(messageID))); err != nil {
		return fmt.Errorf("telegram: delete message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// Restrict bans the user from the chat.
func (g *Gateway) Restrict(_ context.Context, chatID, userID int64) error {
	cfg := tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	}
	if _, err := g.bot.Request(cfg); err != nil {
		return fmt.Errorf("telegram: restrict user %d in chat %d: %w", userID, chatID, err)
	}
	return nil
}

// Unrestrict lifts a ban.
func (g *Gateway) Unrestrict(_ context.Context, chatID, userID int64) error {
	cfg := tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	}
	if _, err := g.bot.Request(cfg); err != nil {
		return fmt.Errorf("telegram: unrestrict user %d in chat %d: %w", userID, chatID, err)
	}
	return nil
}
