package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/modwatch/pipeline/internal/dispatch"
)

// callbackPrefix tags action-control callback data:
// "violation:<violation_id>:<ACTION>".
const callbackPrefix = "violation:"

// actionLabels are the button captions per action.
var actionLabels = map[dispatch.Action]string{
	dispatch.ActionBan:   "Ban",
	dispatch.ActionUnban: "Unban",
	dispatch.ActionWatch: "Watch",
}

// ControlKeyboard renders an action control as a one-button inline keyboard.
func ControlKeyboard(c dispatch.Control) tgbotapi.InlineKeyboardMarkup {
	data := fmt.Sprintf("%s%d:%s", callbackPrefix, c.ViolationID, c.Action)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(actionLabels[c.Action], data),
		),
	)
}

// ParseControl decodes action-control callback data. ok is false for
// callback data that belongs to some other handler.
func ParseControl(data string) (c dispatch.Control, ok bool) {
	if !strings.HasPrefix(data, callbackPrefix) {
		return c, false
	}
	parts := strings.Split(strings.TrimPrefix(data, callbackPrefix), ":")
	if len(parts) != 2 {
		return c, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return c, false
	}
	c.ViolationID = id
	c.Action = dispatch.Action(parts[1])
	return c, true
}

// HandleCallback applies the tapped action control and edits the control
// message in place with the status and the opposite control.
func (g *Gateway) HandleCallback(ctx context.Context, decisions *dispatch.Decisions, query *tgbotapi.CallbackQuery) {
	control, ok := ParseControl(query.Data)
	if !ok {
		return
	}

	next, err := decisions.Apply(ctx, control.ViolationID, query.From.ID, control.Action)
	if err != nil {
		log.Printf("[telegram] apply %s to violation %d: %v", control.Action, control.ViolationID, err)
		g.answerCallback(query.ID, fmt.Sprintf("Failed to %s", strings.ToLower(string(control.Action))))
		return
	}

	status := "Banned"
	if control.Action == dispatch.ActionUnban {
		status = "Unbanned"
	} else if control.Action == dispatch.ActionWatch {
		status = "Watching"
	}

	if query.Message != nil {
		edit := tgbotapi.NewEditMessageTextAndMarkup(
			query.Message.Chat.ID,
			query.Message.MessageID,
			statusBody(query.Message.Text, status),
			ControlKeyboard(*next),
		)
		if _, err := g.bot.Send(edit); err != nil {
			log.Printf("[telegram] edit control message: %v", err)
		}
	}
	g.answerCallback(query.ID, "")
}

const statusMarker = "\n\nStatus: "

// statusBody rewrites a control message's body with the latest status.
// The rule text the moderator acted on stays in place; only the status
// trailer is replaced, so repeated toggles never stack trailers.
func statusBody(current, status string) string {
	if i := strings.LastIndex(current, statusMarker); i >= 0 {
		current = current[:i]
	}
	return current + statusMarker + status
}

func (g *Gateway) answerCallback(id, text string) {
	if _, err := g.bot.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.Printf("[telegram] answer callback: %v", err)
	}
}
