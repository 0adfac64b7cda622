// Package presence derives online/offline state from session bind
// transitions and broadcasts debounced deltas, so clients never have to
// poll. A disconnect/reconnect inside the grace window is coalesced and
// emits nothing.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/domain/event"
)

type transition struct {
	username string
	online   bool
}

// Accepter runs a raw message through the ordering engine, which stores it
// and fans it out. Split out so tests can observe emitted messages.
type Accepter interface {
	Accept(raw domain.RawMessage) (domain.Message, error)
}

// Emitter pushes events onto the fan-out pipeline.
type Emitter interface {
	Emit(e event.DomainEvent)
}

// Roster is the ground truth of who currently holds a bound session,
// consulted when the transition buffer overflowed and queued deltas were
// lost. Implemented by the session registry.
type Roster interface {
	OnlineUsers() []string
}

// Tracker is the per-username presence state machine. Transitions arrive
// from the session registry; confirmed changes push a JOIN/LEAVE system
// message through the ordering engine into the global scope (so
// history-based clients keep working) plus a presence delta on the
// dedicated feed.
type Tracker struct {
	mu          sync.Mutex
	log         *slog.Logger
	accepter    Accepter
	emitter     Emitter
	roster      Roster
	grace       time.Duration
	online      map[string]bool
	pendingOff  map[string]time.Time
	transitions chan transition
	resync      atomic.Bool
}

func NewTracker(log *slog.Logger, accepter Accepter, emitter Emitter, roster Roster, grace time.Duration, bufferSize int) *Tracker {
	return &Tracker{
		log:         log,
		accepter:    accepter,
		emitter:     emitter,
		roster:      roster,
		grace:       grace,
		online:      make(map[string]bool),
		pendingOff:  make(map[string]time.Time),
		transitions: make(chan transition, bufferSize),
	}
}

// Observe is the session registry's bind listener. It never blocks the
// registry: the channel is buffered, and when it overflows the lost
// transition is recovered by reconciling against the roster on the next
// tick instead of being silently dropped.
func (t *Tracker) Observe(username string, online bool) {
	select {
	case t.transitions <- transition{username: username, online: online}:
	default:
		t.resync.Store(true)
		t.log.Warn("Presence transition buffer full, scheduling resync", "username", username)
	}
}

// IsOnline reports the debounced presence of a username. A user inside the
// offline grace window still counts as online.
func (t *Tracker) IsOnline(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[username]
}

// Snapshot returns the usernames currently online, sorted for stable
// output.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := make([]string, 0, len(t.online))
	for username := range t.online {
		users = append(users, username)
	}
	sort.Strings(users)
	return users
}

// Run is the debounce loop. Supervised; restarts recover cleanly because
// all state transitions re-derive from the registry's ground truth.
func (t *Tracker) Run(ctx context.Context) error {
	tick := t.grace / 4
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr := <-t.transitions:
			t.apply(tr)
		case <-ticker.C:
			if t.resync.Swap(false) {
				t.reconcile()
			}
			t.flushExpired(time.Now())
		}
	}
}

func (t *Tracker) apply(tr transition) {
	t.mu.Lock()
	if tr.online {
		if _, pending := t.pendingOff[tr.username]; pending {
			// Reconnect inside the grace window: coalesce, no events.
			delete(t.pendingOff, tr.username)
			t.mu.Unlock()
			t.log.Debug("Presence blip coalesced", "username", tr.username)
			return
		}
		if t.online[tr.username] {
			t.mu.Unlock()
			return
		}
		t.online[tr.username] = true
		t.mu.Unlock()
		t.emit(tr.username, true)
		return
	}

	if !t.online[tr.username] {
		t.mu.Unlock()
		return
	}
	t.pendingOff[tr.username] = time.Now()
	t.mu.Unlock()
}

// reconcile realigns the tracker with the roster after transitions were
// lost to buffer overflow. Users the roster knows and the tracker does not
// come online immediately; users only the tracker still holds enter the
// normal grace window rather than dropping straight to offline.
func (t *Tracker) reconcile() {
	if t.roster == nil {
		return
	}
	truth := make(map[string]bool)
	for _, username := range t.roster.OnlineUsers() {
		truth[username] = true
	}

	t.mu.Lock()
	var joins []string
	for username := range truth {
		if _, pending := t.pendingOff[username]; pending {
			delete(t.pendingOff, username)
			continue
		}
		if !t.online[username] {
			t.online[username] = true
			joins = append(joins, username)
		}
	}
	now := time.Now()
	for username := range t.online {
		if _, pending := t.pendingOff[username]; truth[username] || pending {
			continue
		}
		t.pendingOff[username] = now
	}
	t.mu.Unlock()

	for _, username := range joins {
		t.emit(username, true)
	}
	if len(joins) > 0 {
		t.log.Info("Presence resynced from session registry", "joined", len(joins))
	}
}

func (t *Tracker) flushExpired(now time.Time) {
	t.mu.Lock()
	var expired []string
	for username, since := range t.pendingOff {
		if now.Sub(since) >= t.grace {
			expired = append(expired, username)
		}
	}
	for _, username := range expired {
		delete(t.pendingOff, username)
		delete(t.online, username)
	}
	t.mu.Unlock()

	for _, username := range expired {
		t.emit(username, false)
	}
}

// emit records the JOIN/LEAVE system message through the ordering engine,
// which stores it and fans it out in accept order, then publishes the
// presence delta.
func (t *Tracker) emit(username string, online bool) {
	msgType := domain.MessageJoin
	content := fmt.Sprintf("%s joined the chat", username)
	if !online {
		msgType = domain.MessageLeave
		content = fmt.Sprintf("%s left the chat", username)
	}

	if _, err := t.accepter.Accept(domain.RawMessage{
		Sender:  username,
		Scope:   domain.Global(),
		Content: content,
		Type:    msgType,
	}); err != nil {
		t.log.Error("Failed to record presence message", "username", username, "error", err)
	}
	t.emitter.Emit(event.PresenceChanged{Username: username, Online: online})
	t.log.Info("Presence changed", "username", username, "online", online)
}
