// Package event defines the domain events flowing through the fan-out
// pipeline toward connected subscribers.
package event

import (
	"github.com/WesleyDev184/bananaChat/domain"
)

// DomainEvent is anything the fan-out pipeline can deliver. Channel returns
// the router channel key the event belongs to.
type DomainEvent interface {
	Channel() string
}

// Non-message broadcast channels. Message events use their scope key.
const (
	GroupsChannel   = "feed:groups"
	PresenceChannel = "feed:presence"
)

// MessageAccepted carries a message already assigned its canonical order
// and persisted to the log.
type MessageAccepted struct {
	Message domain.Message
}

func (e MessageAccepted) Channel() string {
	return e.Message.Scope.Key()
}

// MessageUpdated carries a message whose content was edited in place. Seq
// and At are unchanged from the original accept.
type MessageUpdated struct {
	Message domain.Message
}

func (e MessageUpdated) Channel() string {
	return e.Message.Scope.Key()
}

// MessageEcho mirrors a private message back onto the sender's own queue so
// every device of the sender sees the conversation, not only the recipient.
type MessageEcho struct {
	Message domain.Message
}

func (e MessageEcho) Channel() string {
	return domain.Private(e.Message.Sender).Key()
}

// PresenceChanged is a debounced online/offline delta for one username.
type PresenceChanged struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

func (e PresenceChanged) Channel() string {
	return PresenceChannel
}

// Group update actions broadcast on the groups channel.
const (
	GroupCreated  = "GROUP_CREATED"
	GroupUpdated  = "GROUP_UPDATED"
	GroupDeleted  = "GROUP_DELETED"
	MemberAdded   = "MEMBER_ADDED"
	MemberRemoved = "MEMBER_REMOVED"
)

// GroupChanged announces a membership-authority mutation so connected
// clients can reconcile their group view without polling.
type GroupChanged struct {
	Action   string           `json:"action"`
	GroupID  string           `json:"groupId"`
	Username string           `json:"username,omitempty"`
	Group    domain.GroupView `json:"group"`
}

func (e GroupChanged) Channel() string {
	return GroupsChannel
}
