// Package aggregate implements the fan-in join that reassembles a captured
// message's scattered modality signals into a single ready event.
//
// Signals for one message are produced by independent stages and arrive in
// no particular order, possibly more than once. The aggregator keeps one
// pending record per message id, merges each arriving signal into it, and
// emits exactly one ready event once every required signal kind has been
// received. The pending table is the pipeline's only shared mutable state;
// access is serialised by a single mutex, and a background sweep evicts
// records whose required signal never arrived.
package aggregate

import (
	"errors"
	"sync"
	"time"

	"github.com/modwatch/pipeline/internal/event"
	"github.com/modwatch/pipeline/internal/metrics"
)

const (
	// DefaultPendingTTL bounds how long an incomplete aggregation is held
	// before the sweep drops it.
	DefaultPendingTTL = 5 * time.Minute

	// completedTTL is how long completed message ids are remembered so a
	// redelivered signal cannot resurrect a finished aggregation.
	completedTTL = 10 * time.Minute
)

// ErrNoMessageID is returned for signals that cannot be keyed.
var ErrNoMessageID = errors.New("aggregate: signal has no message id")

// pending is the accumulated state for one in-flight message.
type pending struct {
	merged    event.ReadyEvent
	received  map[event.SignalKind]bool
	updatedAt time.Time
}

// Aggregator is the in-memory fan-in table.
type Aggregator struct {
	mu        sync.Mutex
	table     map[int64]*pending
	completed map[int64]time.Time
	ttl       time.Duration
	now       func() time.Time // test hook
}

// New creates an aggregator with the given pending-record TTL.
// A non-positive ttl selects DefaultPendingTTL.
func New(ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Aggregator{
		table:     make(map[int64]*pending),
		completed: make(map[int64]time.Time),
		ttl:       ttl,
		now:       time.Now,
	}
}

// requiredKinds derives the signal kinds a message needs before it is
// complete. Flags are unioned across all merged signals, so a later signal
// can only widen the requirement, never shrink it.
func requiredKinds(m *event.ReadyEvent) map[event.SignalKind]bool {
	req := make(map[event.SignalKind]bool, 3)
	if m.HasVideo {
		req[event.KindImages] = true
		req[event.KindTranscribedAudio] = true
	}
	if m.HasPhoto {
		req[event.KindImages] = true
	}
	if m.HasAudio {
		req[event.KindTranscribedAudio] = true
	}
	if m.Text != "" {
		req[event.KindText] = true
	}
	return req
}

// Ingest merges one signal into the pending table. It returns a non-nil
// ReadyEvent when the merge satisfies the message's required signal set.
// Completion is not committed here: the pending record stays in the table
// until the caller has durably handed the ready event off and calls
// Commit, so a failed hand-off leaves the aggregation intact for the
// redelivered signal to complete again. Redelivered signals are merged
// idempotently; signals for a committed message are ignored.
func (a *Aggregator) Ingest(kind event.SignalKind, sig *event.SignalEvent) (*event.ReadyEvent, error) {
	if sig.MessageID == 0 {
		return nil, ErrNoMessageID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.completed[sig.MessageID]; done {
		return nil, nil
	}

	p, ok := a.table[sig.MessageID]
	if !ok {
		p = &pending{
			merged:   event.ReadyEvent{MessageID: sig.MessageID},
			received: make(map[event.SignalKind]bool, 3),
		}
		a.table[sig.MessageID] = p
		metrics.PendingAggregations.Set(float64(len(a.table)))
	}

	merge(&p.merged, kind, sig)
	p.received[kind] = true
	p.updatedAt = a.now()

	req := requiredKinds(&p.merged)
	for k := range req {
		if !p.received[k] {
			return nil, nil
		}
	}

	ready := p.merged
	return &ready, nil
}

// Commit finalises a completed aggregation: the pending record is dropped
// and the message id is remembered so redelivered signals cannot resurrect
// it. Call only after the ready event has been handed off.
func (a *Aggregator) Commit(messageID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.table[messageID]; !ok {
		return
	}
	delete(a.table, messageID)
	a.completed[messageID] = a.now()
	metrics.PendingAggregations.Set(float64(len(a.table)))
	metrics.ReadyEventsTotal.Inc()
}

// merge folds one signal into the accumulated record. Scalars are
// last-write-wins (empty values never overwrite), flags and asset id
// lists are unioned.
func merge(dst *event.ReadyEvent, kind event.SignalKind, sig *event.SignalEvent) {
	if sig.ChatID != 0 {
		dst.ChatID = sig.ChatID
	}
	if sig.AuthorID != 0 {
		dst.AuthorID = sig.AuthorID
	}
	if sig.Text != "" {
		dst.Text = sig.Text
	}
	if kind == event.KindTranscribedAudio && sig.TranscribedText != "" {
		dst.TranscribedText = sig.TranscribedText
	}
	dst.HasVideo = dst.HasVideo || sig.HasVideo
	dst.HasPhoto = dst.HasPhoto || sig.HasPhoto
	dst.HasAudio = dst.HasAudio || sig.HasAudio
	dst.ImageIDs = unionIDs(dst.ImageIDs, sig.ImageIDs)
	dst.AudioIDs = unionIDs(dst.AudioIDs, sig.AudioIDs)
	if sig.IsReply {
		dst.IsReply = true
		dst.ReplyToChannelPost = dst.ReplyToChannelPost || sig.ReplyToChannelPost
		if sig.ReplyText != "" {
			dst.ReplyText = sig.ReplyText
		}
	}
}

// unionIDs appends the ids from add that are not already in base,
// preserving first-seen order.
func unionIDs(base, add []string) []string {
	if len(add) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base))
	for _, id := range base {
		seen[id] = true
	}
	for _, id := range add {
		if !seen[id] {
			base = append(base, id)
			seen[id] = true
		}
	}
	return base
}

// Sweep evicts pending records older than the TTL and forgets completed
// message ids past their retention. It returns the number of pending
// aggregations evicted.
func (a *Aggregator) Sweep() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	evicted := 0
	for id, p := range a.table {
		if now.Sub(p.updatedAt) > a.ttl {
			delete(a.table, id)
			evicted++
		}
	}
	for id, doneAt := range a.completed {
		if now.Sub(doneAt) > completedTTL {
			delete(a.completed, id)
		}
	}

	if evicted > 0 {
		metrics.PendingAggregations.Set(float64(len(a.table)))
		metrics.EvictedAggregationsTotal.Add(float64(evicted))
	}
	return evicted
}

// PendingCount returns the number of incomplete aggregations.
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.table)
}
