// Package ordering assigns the canonical order of every accepted message
// and enforces publish idempotency. All timestamps and sequence numbers
// visible to clients originate here; clients never need tie-breaking
// heuristics because ties are impossible by construction.
package ordering

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/domain/event"
	"github.com/WesleyDev184/bananaChat/errors"
	"github.com/WesleyDev184/bananaChat/repositories"
	"github.com/google/uuid"
)

type partition struct {
	lastSeq uint64
	lastAt  time.Time
	loaded  bool
}

// Emitter hands an event to the fan-out pipeline.
type Emitter interface {
	Emit(e event.DomainEvent)
}

// Engine owns per-scope ordering state and the nonce dedup window.
// Accept persists before returning: a message is never eligible for fan-out
// unless History can already see it. Fan-out events leave the engine while
// the partition mutex is still held, so delivery order always equals
// acceptance order.
type Engine struct {
	mu          sync.Mutex
	log         *slog.Logger
	repo        repositories.IMessageRepository
	emitter     Emitter
	partitions  map[string]*partition
	seen        map[string]time.Time // sender|scope|nonce -> expiry
	dedupWindow time.Duration
	lastSweep   time.Time
	storeTries  int
	now         func() time.Time
}

func NewEngine(log *slog.Logger, repo repositories.IMessageRepository, emitter Emitter, dedupWindow time.Duration, storeTries int) *Engine {
	if storeTries < 1 {
		storeTries = 1
	}
	return &Engine{
		log:         log,
		repo:        repo,
		emitter:     emitter,
		partitions:  make(map[string]*partition),
		seen:        make(map[string]time.Time),
		dedupWindow: dedupWindow,
		storeTries:  storeTries,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Accept validates, dedups, orders, durably stores and emits a raw message.
// The returned Message is immutable on the wire. A nonce already seen for
// the same (sender, scope) within the dedup window fails with ErrDuplicate.
func (e *Engine) Accept(raw domain.RawMessage) (domain.Message, error) {
	if raw.Sender == "" || !raw.Scope.IsValid() || !raw.Type.IsValid() {
		return domain.Message{}, errors.ErrInvalidMessage
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.sweepLocked(now)

	dedupKey := ""
	if raw.Nonce != "" {
		dedupKey = raw.Sender + "|" + raw.Scope.Key() + "|" + raw.Nonce
		if expiry, dup := e.seen[dedupKey]; dup && now.Before(expiry) {
			return domain.Message{}, errors.ErrDuplicate
		}
	}

	part, err := e.partitionLocked(raw.Scope)
	if err != nil {
		return domain.Message{}, err
	}

	// Strict monotonicity per partition: the wall clock wins unless it
	// stalls or steps backward, then we nudge past the previous accept.
	at := now
	if !at.After(part.lastAt) {
		at = part.lastAt.Add(time.Nanosecond)
	}

	msg := domain.Message{
		ID:      uuid.New(),
		Seq:     part.lastSeq + 1,
		Sender:  raw.Sender,
		Scope:   raw.Scope,
		Content: raw.Content,
		Type:    raw.Type,
		At:      at,
	}

	if err := e.storeLocked(msg); err != nil {
		return domain.Message{}, err
	}

	part.lastSeq = msg.Seq
	part.lastAt = msg.At
	if dedupKey != "" {
		e.seen[dedupKey] = now.Add(e.dedupWindow)
	}

	// Emitted before the mutex is released: concurrent accepts into the
	// same partition cannot fan out in inverse acceptance order.
	if e.emitter != nil {
		e.emitter.Emit(event.MessageAccepted{Message: msg})
		if msg.Scope.Kind == domain.ScopeKindPrivate && msg.Scope.User != msg.Sender {
			e.emitter.Emit(event.MessageEcho{Message: msg})
		}
	}
	return msg, nil
}

// Edit replaces the content of an already accepted CHAT message and marks
// it edited. Seq and At are untouched, so the partition order never moves.
// Only the original sender may edit.
func (e *Engine) Edit(scope domain.Scope, seq uint64, id uuid.UUID, editor, content string) (domain.Message, error) {
	if !scope.IsValid() || editor == "" {
		return domain.Message{}, errors.ErrInvalidMessage
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	msg, found, err := e.repo.GetMessage(scope, seq, id)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %s", errors.ErrStoreFailed, err)
	}
	if !found {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if msg.Sender != editor || msg.Type != domain.MessageChat {
		return domain.Message{}, errors.ErrForbidden
	}

	msg.Content = content
	msg.Edited = true
	if err := e.storeLocked(msg); err != nil {
		return domain.Message{}, err
	}

	if e.emitter != nil {
		e.emitter.Emit(event.MessageUpdated{Message: msg})
	}
	return msg, nil
}

// History returns one ascending page of messages for a scope. Repeated calls
// with the same cursor are idempotent reads of the durable log.
func (e *Engine) History(scope domain.Scope, cursor *string, limit int) ([]domain.Message, *string, error) {
	if !scope.IsValid() {
		return nil, nil, errors.ErrInvalidMessage
	}
	return e.repo.History(scope, cursor, limit)
}

// Search runs a full-text query over a single scope partition.
func (e *Engine) Search(ctx context.Context, scope domain.Scope, query string, limit int) ([]domain.Message, error) {
	if !scope.IsValid() || strings.TrimSpace(query) == "" {
		return nil, errors.ErrInvalidMessage
	}
	return e.repo.SearchMessages(ctx, scope, query, limit)
}

// storeLocked retries the durable append a bounded number of times before
// surfacing a transient failure. An accepted message is only visible once
// the store confirmed it, so subscribers never see partial state.
func (e *Engine) storeLocked(msg domain.Message) error {
	var last error
	for try := 1; try <= e.storeTries; try++ {
		if last = e.repo.StoreMessage(msg); last == nil {
			return nil
		}
		e.log.Warn("Message store attempt failed",
			"scope", msg.Scope.Key(), "try", try, "error", last)
	}
	return fmt.Errorf("%w: %s", errors.ErrStoreFailed, last)
}

// partitionLocked lazily restores per-scope state from the durable log, so
// ordering survives restarts without a warm-up pass over every partition.
func (e *Engine) partitionLocked(scope domain.Scope) (*partition, error) {
	key := scope.Key()
	if part, ok := e.partitions[key]; ok && part.loaded {
		return part, nil
	}
	part := &partition{loaded: true}
	latest, found, err := e.repo.Latest(scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrStoreFailed, err)
	}
	if found {
		part.lastSeq = latest.Seq
		part.lastAt = latest.At
	}
	e.partitions[key] = part
	return part, nil
}

// sweepLocked drops expired dedup entries. Runs at most once per window so
// the accept path stays cheap.
func (e *Engine) sweepLocked(now time.Time) {
	if now.Sub(e.lastSweep) < e.dedupWindow {
		return
	}
	for key, expiry := range e.seen {
		if now.After(expiry) {
			delete(e.seen, key)
		}
	}
	e.lastSweep = now
}

// SeenNonces reports the live dedup window size for one sender, a debugging
// aid for cmd/inspect and tests.
func (e *Engine) SeenNonces(sender string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for key := range e.seen {
		if strings.HasPrefix(key, sender+"|") {
			count++
		}
	}
	return count
}
