// Package rules provides PostgreSQL-backed storage for the moderation
// pipeline's relational state: chats, users, rules, moderators and their
// notification policies, captured violator messages, detected violations,
// and the moderator decisions taken on them.
package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Rule types. BAN rules trigger immediate enforcement at dispatch time;
// NOTIFY and OBSERVE rules only notify.
const (
	TypeBan     = "BAN"
	TypeNotify  = "NOTIFY"
	TypeObserve = "OBSERVE"
)

// Notification policy categories. BAN rules are gated on CategoryBan,
// every other rule type on CategoryNotification.
const (
	CategoryBan          = "BAN"
	CategoryNotification = "NOTIFICATION"
)

// Violation enforcement statuses.
const (
	StatusUnactioned = "UNACTIONED"
	StatusEnforced   = "ENFORCED"
	StatusReversed   = "REVERSED"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("rules: not found")

// Rule is one moderation rule owned by a chat's administrators. The
// pipeline treats rules as read-only; ordering by ID is load-bearing for
// batch evaluation.
type Rule struct {
	ID              int64
	ChatID          int64
	RuleText        string
	ExplanationText string
	Type            string
	Activated       bool
	ChatTitle       string // populated by RuleDetail
}

// Moderator is one activated moderator of a chat.
type Moderator struct {
	UserID   int64
	Username string
	FullName string
}

// ViolatorMessage is the captured message record a violation refers to.
type ViolatorMessage struct {
	MessageID int64
	ChatID    int64
	AuthorID  int64
	Text      string
	CreatedAt time.Time
}

// Violation is a detected rule violation and its enforcement state.
type Violation struct {
	ID         int64
	RuleID     int64
	MessageID  int64
	ChatID     int64
	AuthorID   int64
	Status     string
	DetectedAt time.Time
}

// Decision is one moderator action on a violation. The current decision
// for a violation is the latest row.
type Decision struct {
	ID          int64
	ViolationID int64
	ModeratorID int64
	Decision    string
	DecidedAt   time.Time
}

// Store manages pipeline state in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ActiveRules returns every activated rule for a chat, ordered ascending
// by id. The ordering is the batch-evaluation contract: answer indexes map
// back to positions in this sequence.
func (s *Store) ActiveRules(ctx context.Context, chatID int64) ([]Rule, error) {
	const query = `
		SELECT id, chat_id, rule_text, explanation_text, type
		FROM rules
		WHERE chat_id = $1 AND activated = TRUE
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("rules: active rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r := Rule{Activated: true}
		if err := rows.Scan(&r.ID, &r.ChatID, &r.RuleText, &r.ExplanationText, &r.Type); err != nil {
			return nil, fmt.Errorf("rules: scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rules: active rules: %w", err)
	}
	return out, nil
}

// RuleDetail loads one rule with its chat title.
func (s *Store) RuleDetail(ctx context.Context, ruleID int64) (*Rule, error) {
	const query = `
		SELECT r.id, r.chat_id, r.rule_text, r.explanation_text, r.type, r.activated, c.title
		FROM rules r
		JOIN chats c ON r.chat_id = c.id
		WHERE r.id = $1`

	r := &Rule{}
	err := s.db.QueryRowContext(ctx, query, ruleID).
		Scan(&r.ID, &r.ChatID, &r.RuleText, &r.ExplanationText, &r.Type, &r.Activated, &r.ChatTitle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rules: rule detail %d: %w", ruleID, err)
	}
	return r, nil
}

// ActivatedModerators returns the moderators currently activated for a chat.
func (s *Store) ActivatedModerators(ctx context.Context, chatID int64) ([]Moderator, error) {
	const query = `
		SELECT DISTINCT u.user_id, u.username, u.full_name
		FROM users u
		JOIN chat_moderators cm ON u.user_id = cm.user_id
		WHERE cm.chat_id = $1 AND cm.activated = TRUE`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("rules: moderators for chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var out []Moderator
	for rows.Next() {
		var m Moderator
		if err := rows.Scan(&m.UserID, &m.Username, &m.FullName); err != nil {
			return nil, fmt.Errorf("rules: scan moderator: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rules: moderators for chat %d: %w", chatID, err)
	}
	return out, nil
}

// NotificationAllowed reports whether a moderator should be notified for
// the given category. Absence of a policy row means notify (default-allow).
func (s *Store) NotificationAllowed(ctx context.Context, moderatorID int64, category string) (bool, error) {
	const query = `
		SELECT enabled
		FROM notification_policies
		WHERE moderator_id = $1 AND category = $2`

	var enabled bool
	err := s.db.QueryRowContext(ctx, query, moderatorID, category).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("rules: notification policy %d/%s: %w", moderatorID, category, err)
	}
	return enabled, nil
}

// SetNotificationPolicy upserts a moderator's policy for one category.
func (s *Store) SetNotificationPolicy(ctx context.Context, moderatorID int64, category string, enabled bool) error {
	const query = `
		INSERT INTO notification_policies (moderator_id, category, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (moderator_id, category) DO UPDATE SET enabled = EXCLUDED.enabled`

	if _, err := s.db.ExecContext(ctx, query, moderatorID, category, enabled); err != nil {
		return fmt.Errorf("rules: set notification policy: %w", err)
	}
	return nil
}

// UpsertChat records a chat the bot is a member of, with its permission
// bits as observed in the membership update.
func (s *Store) UpsertChat(ctx context.Context, chatID int64, title string, canRead, canRestrict, isBotIn bool) error {
	const query = `
		INSERT INTO chats (id, title, activated, can_read_messages, can_restrict_members, is_bot_in)
		VALUES ($1, $2, TRUE, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			can_read_messages = EXCLUDED.can_read_messages,
			can_restrict_members = EXCLUDED.can_restrict_members,
			is_bot_in = EXCLUDED.is_bot_in`

	if _, err := s.db.ExecContext(ctx, query, chatID, title, canRead, canRestrict, isBotIn); err != nil {
		return fmt.Errorf("rules: upsert chat %d: %w", chatID, err)
	}
	return nil
}

// ChatReadable reports whether messages in a chat should be monitored.
func (s *Store) ChatReadable(ctx context.Context, chatID int64) (bool, error) {
	const query = `SELECT activated AND can_read_messages FROM chats WHERE id = $1`

	var ok bool
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rules: chat readable %d: %w", chatID, err)
	}
	return ok, nil
}

// UpsertUser records or refreshes a message author.
func (s *Store) UpsertUser(ctx context.Context, userID int64, username, fullName string) error {
	const query = `
		INSERT INTO users (user_id, username, full_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			full_name = EXCLUDED.full_name`

	if _, err := s.db.ExecContext(ctx, query, userID, username, fullName); err != nil {
		return fmt.Errorf("rules: upsert user %d: %w", userID, err)
	}
	return nil
}

// AddViolatorMessage records a captured message entering the pipeline.
// Redelivered captures overwrite idempotently.
func (s *Store) AddViolatorMessage(ctx context.Context, m *ViolatorMessage) error {
	const query = `
		INSERT INTO violator_messages (id, chat_id, author_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id, chat_id) DO UPDATE SET text = EXCLUDED.text`

	if _, err := s.db.ExecContext(ctx, query, m.MessageID, m.ChatID, m.AuthorID, m.Text, m.CreatedAt); err != nil {
		return fmt.Errorf("rules: add violator message: %w", err)
	}
	return nil
}

// ViolatorMessage loads one captured message by id and chat.
func (s *Store) ViolatorMessage(ctx context.Context, messageID, chatID int64) (*ViolatorMessage, error) {
	const query = `
		SELECT id, chat_id, author_id, text, created_at
		FROM violator_messages
		WHERE id = $1 AND chat_id = $2`

	m := &ViolatorMessage{}
	err := s.db.QueryRowContext(ctx, query, messageID, chatID).
		Scan(&m.MessageID, &m.ChatID, &m.AuthorID, &m.Text, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rules: violator message %d: %w", messageID, err)
	}
	return m, nil
}

// AddViolation records a detected violation in the UNACTIONED state and
// returns its id. The insert is idempotent on (rule_id, message_id): a
// redelivered violation gets the existing row's id back unchanged.
func (s *Store) AddViolation(ctx context.Context, ruleID, messageID, chatID, authorID int64) (int64, error) {
	const query = `
		INSERT INTO rule_violations (rule_id, message_id, chat_id, author_id, enforcement_status, detected_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (rule_id, message_id) DO UPDATE SET rule_id = EXCLUDED.rule_id
		RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query, ruleID, messageID, chatID, authorID, StatusUnactioned).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("rules: add violation: %w", err)
	}
	return id, nil
}

// Violation loads one violation by id.
func (s *Store) Violation(ctx context.Context, id int64) (*Violation, error) {
	const query = `
		SELECT id, rule_id, message_id, chat_id, author_id, enforcement_status, detected_at
		FROM rule_violations
		WHERE id = $1`

	v := &Violation{}
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&v.ID, &v.RuleID, &v.MessageID, &v.ChatID, &v.AuthorID, &v.Status, &v.DetectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rules: violation %d: %w", id, err)
	}
	return v, nil
}

// SetEnforcementStatus updates a violation's enforcement state.
func (s *Store) SetEnforcementStatus(ctx context.Context, violationID int64, status string) error {
	const query = `UPDATE rule_violations SET enforcement_status = $2 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, violationID, status)
	if err != nil {
		return fmt.Errorf("rules: set enforcement status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddDecision appends a moderator decision for a violation.
func (s *Store) AddDecision(ctx context.Context, violationID, moderatorID int64, decision string) (int64, error) {
	const query = `
		INSERT INTO rule_violation_decisions (violation_id, moderator_id, decision, decided_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query, violationID, moderatorID, decision).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("rules: add decision: %w", err)
	}
	return id, nil
}

// CurrentDecision returns the latest decision recorded for a violation,
// or ErrNotFound if no moderator has acted yet.
func (s *Store) CurrentDecision(ctx context.Context, violationID int64) (*Decision, error) {
	const query = `
		SELECT id, violation_id, moderator_id, decision, decided_at
		FROM rule_violation_decisions
		WHERE violation_id = $1
		ORDER BY id DESC
		LIMIT 1`

	d := &Decision{}
	err := s.db.QueryRowContext(ctx, query, violationID).
		Scan(&d.ID, &d.ViolationID, &d.ModeratorID, &d.Decision, &d.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rules: current decision %d: %w", violationID, err)
	}
	return d, nil
}
