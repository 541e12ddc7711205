package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/modwatch/pipeline/internal/metrics"
	"github.com/modwatch/pipeline/internal/rules"
)

// Decisions applies moderator actions to violations. A violation's
// enforcement state moves Unactioned -> Enforced <-> Reversed; every
// transition appends a decision row, and the control offered next is
// always the opposite of the action just taken so the moderator can
// toggle again.
type Decisions struct {
	store   Store
	gateway Gateway
}

// NewDecisions creates the decision applier.
func NewDecisions(store Store, gateway Gateway) *Decisions {
	return &Decisions{store: store, gateway: gateway}
}

// Apply performs one moderator action on a violation and returns the
// control to present next. The enforcement call happens before the
// decision is recorded: if the platform refuses the action, the stored
// state keeps describing reality.
func (d *Decisions) Apply(ctx context.Context, violationID, moderatorID int64, action Action) (*Control, error) {
	v, err := d.store.Violation(ctx, violationID)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionBan:
		if err := d.gateway.Restrict(ctx, v.ChatID, v.AuthorID); err != nil {
			return nil, fmt.Errorf("dispatch: ban user %d: %w", v.AuthorID, err)
		}
		metrics.EnforcementsTotal.WithLabelValues("ban").Inc()
		if err := d.store.SetEnforcementStatus(ctx, violationID, rules.StatusEnforced); err != nil {
			return nil, err
		}
	case ActionUnban:
		if err := d.gateway.Unrestrict(ctx, v.ChatID, v.AuthorID); err != nil {
			return nil, fmt.Errorf("dispatch: unban user %d: %w", v.AuthorID, err)
		}
		metrics.EnforcementsTotal.WithLabelValues("unban").Inc()
		if err := d.store.SetEnforcementStatus(ctx, violationID, rules.StatusReversed); err != nil {
			return nil, err
		}
	case ActionWatch:
		// Observation only: recorded, nothing enforced.
	default:
		return nil, fmt.Errorf("dispatch: unknown action %q", action)
	}

	if _, err := d.store.AddDecision(ctx, violationID, moderatorID, string(action)); err != nil {
		return nil, err
	}

	log.Printf("[dispatcher] moderator %d applied %s to violation %d", moderatorID, action, violationID)
	return &Control{ViolationID: violationID, Action: action.Opposite()}, nil
}

// Current returns the latest decision taken on a violation, or nil when
// no moderator has acted yet.
func (d *Decisions) Current(ctx context.Context, violationID int64) (*rules.Decision, error) {
	dec, err := d.store.CurrentDecision(ctx, violationID)
	if err == rules.ErrNotFound {
		return nil, nil
	}
	return dec, err
}
