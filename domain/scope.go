// Package domain contains core concepts of the chat system.
// This file defines the Scope tagged union used to address every
// conversation partition: the global room, per-user private queues,
// and per-group topics.
package domain

import (
	"encoding/json"
	"fmt"
)

type ScopeKind string

const (
	ScopeKindGlobal  ScopeKind = "global"
	ScopeKindPrivate ScopeKind = "private"
	ScopeKindGroup   ScopeKind = "group"
)

// Scope identifies a conversation partition. The zero value is not valid;
// use the constructors below.
type Scope struct {
	Kind  ScopeKind
	User  string // set when Kind == ScopeKindPrivate
	Group string // set when Kind == ScopeKindGroup
}

func Global() Scope {
	return Scope{Kind: ScopeKindGlobal}
}

func Private(username string) Scope {
	return Scope{Kind: ScopeKindPrivate, User: username}
}

func Group(groupID string) Scope {
	return Scope{Kind: ScopeKindGroup, Group: groupID}
}

// Key returns the partition key used for storage prefixes, router channels
// and ordering partitions. Keys are stable and collision-free across kinds.
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeKindPrivate:
		return "user:" + s.User
	case ScopeKindGroup:
		return "group:" + s.Group
	default:
		return "global"
	}
}

func (s Scope) IsValid() bool {
	switch s.Kind {
	case ScopeKindGlobal:
		return true
	case ScopeKindPrivate:
		return s.User != ""
	case ScopeKindGroup:
		return s.Group != ""
	default:
		return false
	}
}

func (s Scope) String() string {
	return s.Key()
}

type scopeJSON struct {
	Kind  ScopeKind `json:"kind"`
	User  string    `json:"user,omitempty"`
	Group string    `json:"group,omitempty"`
}

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(scopeJSON{Kind: s.Kind, User: s.User, Group: s.Group})
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var raw scopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed := Scope{Kind: raw.Kind, User: raw.User, Group: raw.Group}
	if !parsed.IsValid() {
		return fmt.Errorf("invalid scope %q", raw.Kind)
	}
	*s = parsed
	return nil
}
