// Package server exposes the chat core over one persistent websocket per
// client. All operations ride the same connection as JSON envelope frames;
// there is no side channel to poll.
package server

import (
	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/errors"
)

// Client -> server operations.
const (
	OpJoin        = "join"
	OpPublish     = "publish"
	OpEdit        = "message.edit"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpHistory     = "history"
	OpSearch      = "history.search"
	OpPresence    = "presence"
	OpGroupCreate = "group.create"
	OpGroupJoin   = "group.join"
	OpGroupLeave  = "group.leave"
	OpGroupUpdate = "group.update"
	OpGroupRemove = "group.remove"
	OpGroupDelete = "group.delete"
	OpGroupList   = "group.list"
	OpGroupGet    = "group.get"
)

// Server -> client frame types.
const (
	FrameResult   = "result"
	FrameError    = "error"
	FrameMessage  = "message"
	FramePresence = "presence"
	FrameGroup    = "group"
)

// ScopeSelector is the wire form of a conversation scope.
type ScopeSelector struct {
	Scope string `json:"scope" validate:"required,oneof=global private group"`
	User  string `json:"user,omitempty"`
	Group string `json:"group,omitempty"`
}

func (s *ScopeSelector) ToScope() (domain.Scope, error) {
	if s == nil {
		return domain.Scope{}, errors.ErrInvalidMessage
	}
	scope := domain.Scope{Kind: domain.ScopeKind(s.Scope), User: s.User, Group: s.Group}
	if !scope.IsValid() {
		return domain.Scope{}, errors.ErrInvalidMessage
	}
	return scope, nil
}

func selectorFor(scope domain.Scope) *ScopeSelector {
	return &ScopeSelector{Scope: string(scope.Kind), User: scope.User, Group: scope.Group}
}

// GroupPayload carries group operation arguments. Target names the user an
// owner acts on (add, remove).
type GroupPayload struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	MaxMembers  int    `json:"maxMembers,omitempty"`
	Target      string `json:"target,omitempty"`
}

// ClientFrame is the envelope every inbound frame unmarshals into.
type ClientFrame struct {
	Op        string         `json:"op" validate:"required"`
	Ref       string         `json:"ref,omitempty"`
	Username  string         `json:"username,omitempty"`
	Scope     *ScopeSelector `json:"scope,omitempty"`
	Content   string         `json:"content,omitempty"`
	MsgType   string         `json:"msgType,omitempty"`
	Nonce     string         `json:"nonce,omitempty"`
	Cursor    *string        `json:"cursor,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Query     string         `json:"query,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Seq       uint64         `json:"seq,omitempty"`
	Group     *GroupPayload  `json:"group,omitempty"`
}

// MessageBody is the wire form of an accepted message. Recipient and
// GroupID flatten the scope the way history consumers expect it.
type MessageBody struct {
	ID        string `json:"id"`
	Seq       uint64 `json:"seq"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Edited    bool   `json:"edited,omitempty"`
	Timestamp string `json:"timestamp"`
}

func toMessageBody(msg domain.Message) MessageBody {
	body := MessageBody{
		ID:        msg.ID.String(),
		Seq:       msg.Seq,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Type:      string(msg.Type),
		Edited:    msg.Edited,
		Timestamp: msg.At.Format(timestampLayout),
	}
	switch msg.Scope.Kind {
	case domain.ScopeKindPrivate:
		body.Recipient = msg.Scope.User
	case domain.ScopeKindGroup:
		body.GroupID = msg.Scope.Group
	}
	return body
}

// RFC3339 with nanoseconds, so the strict ordering survives serialization.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

type ErrorBody struct {
	Kind    errors.Kind `json:"kind"`
	Message string      `json:"message"`
}

type PresenceBody struct {
	Username string `json:"username,omitempty"`
	Online   bool   `json:"online"`
}

type PresenceSnapshot struct {
	Usernames []string `json:"usernames"`
	Count     int      `json:"count"`
}

type GroupEventBody struct {
	Action   string           `json:"action"`
	GroupID  string           `json:"groupId"`
	Username string           `json:"username,omitempty"`
	Group    domain.GroupView `json:"group"`
}

// ServerFrame is the envelope for everything the server sends. Exactly one
// payload field is set, matching Type.
type ServerFrame struct {
	Type     string             `json:"type"`
	Ref      string             `json:"ref,omitempty"`
	Op       string             `json:"op,omitempty"`
	Error    *ErrorBody         `json:"error,omitempty"`
	Message  *MessageBody       `json:"message,omitempty"`
	Messages []MessageBody      `json:"messages,omitempty"`
	Cursor   *string            `json:"cursor,omitempty"`
	Scope    *ScopeSelector     `json:"scope,omitempty"`
	Presence *PresenceBody      `json:"presence,omitempty"`
	Snapshot *PresenceSnapshot  `json:"snapshot,omitempty"`
	Group    *domain.GroupView  `json:"group,omitempty"`
	Groups   []domain.GroupView `json:"groups,omitempty"`
	GroupEv  *GroupEventBody    `json:"groupEvent,omitempty"`
}

func resultFrame(ref, op string) ServerFrame {
	return ServerFrame{Type: FrameResult, Ref: ref, Op: op}
}

func errorFrame(ref, op string, err error) ServerFrame {
	return ServerFrame{
		Type: FrameError,
		Ref:  ref,
		Op:   op,
		Error: &ErrorBody{
			Kind:    errors.Classify(err),
			Message: err.Error(),
		},
	}
}
