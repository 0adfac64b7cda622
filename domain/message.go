// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once accepted by the ordering engine.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageChat   MessageType = "CHAT"
	MessageJoin   MessageType = "JOIN"
	MessageLeave  MessageType = "LEAVE"
	MessageSystem MessageType = "SYSTEM"
)

func (t MessageType) IsValid() bool {
	switch t {
	case MessageChat, MessageJoin, MessageLeave, MessageSystem:
		return true
	}
	return false
}

// RawMessage is a sending intent before the ordering engine has accepted it.
// Nonce is the caller-supplied idempotency key; retrying a publish with the
// same nonce is safe.
type RawMessage struct {
	Sender  string
	Scope   Scope
	Content string
	Type    MessageType
	Nonce   string
}

// Message is an accepted, immutable chat event. Seq and At are assigned by
// the ordering engine: Seq is strictly increasing per scope partition and At
// never ties within a partition.
type Message struct {
	ID      uuid.UUID   `json:"id"`
	Seq     uint64      `json:"seq"`
	Sender  string      `json:"sender"`
	Scope   Scope       `json:"scope"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
	At      time.Time   `json:"at"`
	Edited  bool        `json:"edited,omitempty"`
}
