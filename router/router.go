// Package router is the in-memory publish/subscribe fabric: one global
// channel, one private queue per username, one topic per active group, and
// the broadcast feeds for presence deltas and group updates. Router state is
// a derived cache of "who is currently listening"; the durable message log
// stays authoritative for content.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/WesleyDev184/bananaChat/contract"
	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/domain/event"
	"github.com/WesleyDev184/bananaChat/errors"
)

// Binder resolves a connection to its bound username. Implemented by the
// session registry.
type Binder interface {
	Username(connectionID string) (string, bool)
}

// MembershipChecker gates group-channel subscription and delivery.
// Implemented by the membership authority.
type MembershipChecker interface {
	IsMember(groupID, username string) bool
	GroupActive(groupID string) bool
}

type subscriber struct {
	connectionID string
	username     string
}

type Router struct {
	mu         sync.RWMutex
	log        *slog.Logger
	sinks      map[string]contract.EventSink
	channels   map[string]map[string]string // channel key -> connection id -> username
	binder     Binder
	membership MembershipChecker
	dropped    func(connectionID string)
}

func NewRouter(log *slog.Logger, binder Binder, membership MembershipChecker) *Router {
	return &Router{
		log:        log,
		sinks:      make(map[string]contract.EventSink),
		channels:   make(map[string]map[string]string),
		binder:     binder,
		membership: membership,
	}
}

// OnDropped installs the callback invoked after a slow subscriber has been
// removed, so the transport can close the connection. Must be set before
// traffic starts.
func (r *Router) OnDropped(fn func(connectionID string)) {
	r.dropped = fn
}

// SetMembership installs the membership authority. The router and the
// authority reference each other (delivery checks membership, group
// deletion tears channels down), so one side binds after construction.
// Must be set before traffic starts.
func (r *Router) SetMembership(membership MembershipChecker) {
	r.membership = membership
}

// Attach registers the outbound sink of a connection. Subscriptions created
// later deliver through it.
func (r *Router) Attach(connectionID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[connectionID] = sink
}

// Detach removes the sink and every subscription of a connection.
func (r *Router) Detach(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(connectionID)
}

func (r *Router) detachLocked(connectionID string) {
	delete(r.sinks, connectionID)
	for key, members := range r.channels {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.channels, key)
		}
	}
}

// Subscribe adds a connection to a message scope's channel. Private queues
// only accept their owner; group topics require current membership of an
// active group. A failed subscribe leaves prior subscriptions untouched.
func (r *Router) Subscribe(connectionID string, scope domain.Scope) error {
	if !scope.IsValid() {
		return errors.ErrInvalidMessage
	}
	username, bound := r.binder.Username(connectionID)
	if !bound {
		return errors.ErrNotBound
	}

	switch scope.Kind {
	case domain.ScopeKindPrivate:
		if scope.User != username {
			return errors.ErrForbidden
		}
	case domain.ScopeKindGroup:
		if !r.membership.GroupActive(scope.Group) {
			return errors.ErrGroupNotFound
		}
		if !r.membership.IsMember(scope.Group, username) {
			return errors.ErrNotMember
		}
	}

	r.subscribeChannel(connectionID, username, scope.Key())
	return nil
}

// SubscribeFeed adds a bound connection to a broadcast feed (presence
// deltas, group updates). Feeds carry no conversation content, so binding
// is the only requirement.
func (r *Router) SubscribeFeed(connectionID, channel string) error {
	username, bound := r.binder.Username(connectionID)
	if !bound {
		return errors.ErrNotBound
	}
	r.subscribeChannel(connectionID, username, channel)
	return nil
}

func (r *Router) subscribeChannel(connectionID, username, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.channels[key]
	if !ok {
		members = make(map[string]string)
		r.channels[key] = members
	}
	members[connectionID] = username
}

func (r *Router) Unsubscribe(connectionID string, scope domain.Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := scope.Key()
	if members, ok := r.channels[key]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.channels, key)
		}
	}
}

// TeardownChannel removes a whole channel, used when a group is deleted.
func (r *Router) TeardownChannel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, key)
}

// SubscriberCount reports the current listener count of a channel.
func (r *Router) SubscriberCount(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[key])
}

// Deliver fans an event out to every current subscriber of its channel.
// Delivery is fire-and-forget per subscriber: a sink over its buffer is
// dropped and disconnected instead of stalling the publisher. Membership of
// group channels is re-checked here because it can change after subscribe;
// removed members stop receiving even without an explicit unsubscribe.
func (r *Router) Deliver(ctx context.Context, evt event.DomainEvent) {
	key := evt.Channel()
	groupID, isGroup := strings.CutPrefix(key, "group:")

	r.mu.RLock()
	members := r.channels[key]
	targets := make([]subscriber, 0, len(members))
	sinks := make([]contract.EventSink, 0, len(members))
	for connectionID, username := range members {
		if isGroup && !r.membership.IsMember(groupID, username) {
			continue
		}
		sink, ok := r.sinks[connectionID]
		if !ok {
			continue
		}
		targets = append(targets, subscriber{connectionID: connectionID, username: username})
		sinks = append(sinks, sink)
	}
	r.mu.RUnlock()

	var slow []string
	for i, sink := range sinks {
		if err := sink.Consume(ctx, evt); err != nil {
			r.log.Warn("Dropping slow subscriber",
				"connection_id", targets[i].connectionID,
				"channel", key,
				"error", err)
			slow = append(slow, targets[i].connectionID)
		}
	}
	if len(slow) == 0 {
		return
	}

	r.mu.Lock()
	for _, connectionID := range slow {
		r.detachLocked(connectionID)
	}
	r.mu.Unlock()

	if r.dropped != nil {
		for _, connectionID := range slow {
			r.dropped(connectionID)
		}
	}
}
