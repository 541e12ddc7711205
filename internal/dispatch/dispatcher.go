// Package dispatch resolves detected violations into moderator
// notifications and enforcement actions. For every violation it records
// the violation, claims an idempotency key, auto-enforces BAN rules, and
// notifies each eligible moderator with an action control that toggles the
// enforcement state.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/modwatch/pipeline/internal/event"
	"github.com/modwatch/pipeline/internal/messaging"
	"github.com/modwatch/pipeline/internal/metrics"
	"github.com/modwatch/pipeline/internal/rules"
)

// Action is a moderator (or automatic) enforcement action.
type Action string

const (
	ActionBan   Action = "BAN"
	ActionUnban Action = "UNBAN"
	ActionWatch Action = "WATCH"
)

// Opposite returns the toggle counterpart of an action, used to re-issue
// the reverse control after a decision is applied.
func (a Action) Opposite() Action {
	if a == ActionBan {
		return ActionUnban
	}
	return ActionBan
}

// Control is the actionable button attached to a moderator notification.
type Control struct {
	ViolationID int64
	Action      Action
}

// Gateway is the chat-platform client. All operations are fallible and
// treated as best-effort by the dispatcher.
type Gateway interface {
	// Forward copies the offending message from its chat to a target user.
	Forward(ctx context.Context, fromChatID, messageID, targetID int64) error
	// Send delivers text with an optional action control to a target user.
	Send(ctx context.Context, targetID int64, text string, control *Control) error
	// Delete removes a message from a chat.
	Delete(ctx context.Context, chatID, messageID int64) error
	// Restrict mutes/bans a user in a chat.
	Restrict(ctx context.Context, chatID, userID int64) error
	// Unrestrict lifts a restriction.
	Unrestrict(ctx context.Context, chatID, userID int64) error
}

// Claimer provides the persisted already-dispatched set. Claim returns
// false when the key was already taken by an earlier delivery.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// Store is the relational state the dispatcher reads and writes,
// satisfied by *rules.Store.
type Store interface {
	RuleDetail(ctx context.Context, ruleID int64) (*rules.Rule, error)
	ActivatedModerators(ctx context.Context, chatID int64) ([]rules.Moderator, error)
	NotificationAllowed(ctx context.Context, moderatorID int64, category string) (bool, error)
	AddViolation(ctx context.Context, ruleID, messageID, chatID, authorID int64) (int64, error)
	Violation(ctx context.Context, id int64) (*rules.Violation, error)
	SetEnforcementStatus(ctx context.Context, violationID int64, status string) error
	AddDecision(ctx context.Context, violationID, moderatorID int64, decision string) (int64, error)
	CurrentDecision(ctx context.Context, violationID int64) (*rules.Decision, error)
}

// Dispatcher turns violation events into side effects.
type Dispatcher struct {
	store   Store
	gateway Gateway
	claims  Claimer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store Store, gateway Gateway, claims Claimer) *Dispatcher {
	return &Dispatcher{store: store, gateway: gateway, claims: claims}
}

// HandleDelivery is the queue consume handler: it decodes a violation
// event and dispatches it.
func (d *Dispatcher) HandleDelivery(ctx context.Context) func(data []byte) error {
	return func(data []byte) error {
		var v event.ViolationEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%w: unmarshal violation: %v", messaging.ErrDrop, err)
		}
		return d.Dispatch(ctx, &v)
	}
}

// Dispatch processes one violation. The reads and the idempotent
// violation insert happen before the claim so an infra failure leaves the
// claim untaken and the broker free to redeliver; the claim guards only
// the notify and enforce side effects, and once it is held each of those
// is best-effort so one failed notification never blocks the others.
func (d *Dispatcher) Dispatch(ctx context.Context, v *event.ViolationEvent) error {
	rule, err := d.store.RuleDetail(ctx, v.RuleID)
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			return fmt.Errorf("%w: rule %d not found", messaging.ErrDrop, v.RuleID)
		}
		return err
	}

	moderators, err := d.store.ActivatedModerators(ctx, rule.ChatID)
	if err != nil {
		return err
	}
	if len(moderators) == 0 {
		// No moderator means no possible action.
		log.Printf("[dispatcher] no moderators for chat %d, dropping violation of rule %d",
			rule.ChatID, v.RuleID)
		return nil
	}

	violationID, err := d.store.AddViolation(ctx, v.RuleID, v.MessageID, rule.ChatID, v.AuthorID)
	if err != nil {
		return err
	}

	claimed, err := d.claims.Claim(ctx, fmt.Sprintf("dispatch:%d:%d", v.MessageID, v.RuleID))
	if err != nil {
		return err
	}
	if !claimed {
		metrics.DedupHitsTotal.Inc()
		log.Printf("[dispatcher] duplicate delivery for message %d rule %d, skipping",
			v.MessageID, v.RuleID)
		return nil
	}

	// BAN rules enforce immediately; the moderator notification below is
	// informational and its control reverses the automatic action.
	control := Control{ViolationID: violationID, Action: ActionBan}
	if rule.Type == rules.TypeBan {
		d.enforce(ctx, rule.ChatID, v.MessageID, v.AuthorID, violationID)
		control.Action = ActionUnban
	}

	category := rules.CategoryNotification
	if rule.Type == rules.TypeBan {
		category = rules.CategoryBan
	}

	text := notificationText(rule)
	for _, mod := range moderators {
		allowed, err := d.store.NotificationAllowed(ctx, mod.UserID, category)
		if err != nil {
			log.Printf("[dispatcher] policy lookup for moderator %d: %v", mod.UserID, err)
			continue
		}
		if !allowed {
			metrics.NotificationsTotal.WithLabelValues("skipped_policy").Inc()
			log.Printf("[dispatcher] moderator %d opted out of %s notifications", mod.UserID, category)
			continue
		}

		// Forward the offending message first so the moderator sees the
		// content; a forward failure does not block the rule text.
		if err := d.gateway.Forward(ctx, rule.ChatID, v.MessageID, mod.UserID); err != nil {
			log.Printf("[dispatcher] forward message %d to moderator %d: %v", v.MessageID, mod.UserID, err)
		}
		if err := d.gateway.Send(ctx, mod.UserID, text, &control); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			log.Printf("[dispatcher] notify moderator %d: %v", mod.UserID, err)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}

	return nil
}

// enforce deletes the offending message and restricts its author, then
// marks the violation enforced. Each step is best-effort logged.
func (d *Dispatcher) enforce(ctx context.Context, chatID, messageID, authorID, violationID int64) {
	if err := d.gateway.Delete(ctx, chatID, messageID); err != nil {
		log.Printf("[dispatcher] delete message %d in chat %d: %v", messageID, chatID, err)
	}
	if err := d.gateway.Restrict(ctx, chatID, authorID); err != nil {
		log.Printf("[dispatcher] restrict user %d in chat %d: %v", authorID, chatID, err)
	}
	if err := d.store.SetEnforcementStatus(ctx, violationID, rules.StatusEnforced); err != nil {
		log.Printf("[dispatcher] mark violation %d enforced: %v", violationID, err)
	}
	metrics.EnforcementsTotal.WithLabelValues("auto_ban").Inc()
	log.Printf("[dispatcher] auto-enforced: message %d deleted, user %d restricted in chat %d",
		messageID, authorID, chatID)
}

// notificationText renders the moderator-facing violation summary.
func notificationText(rule *rules.Rule) string {
	return fmt.Sprintf("Rule violation in chat %s:\n\nRule: %s\nType: %s",
		rule.ChatTitle, rule.RuleText, rule.Type)
}
