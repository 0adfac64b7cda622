// Package domain contains core concepts of the chat system.
// This file defines Group entities and their membership invariants:
// the owner is always a member, membership never exceeds MaxMembers,
// and the owner cannot leave without deleting the group.
package domain

import (
	"time"

	"github.com/samber/lo"
)

type GroupType string

const (
	GroupPublic     GroupType = "PUBLIC"     // anyone may join
	GroupPrivate    GroupType = "PRIVATE"    // owner-initiated add only
	GroupRestricted GroupType = "RESTRICTED" // owner approval, modeled as owner-initiated add
)

func (t GroupType) IsValid() bool {
	switch t {
	case GroupPublic, GroupPrivate, GroupRestricted:
		return true
	}
	return false
}

const (
	MinGroupMembers = 2
	MaxGroupMembers = 1000
)

type GroupChat struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        GroupType       `json:"type"`
	MaxMembers  int             `json:"maxMembers"`
	Owner       string          `json:"owner"`
	Members     map[string]bool `json:"members"`
	IsActive    bool            `json:"isActive"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (g *GroupChat) IsMember(username string) bool {
	return g.Members[username]
}

func (g *GroupChat) IsOwner(username string) bool {
	return g.Owner == username
}

func (g *GroupChat) MemberCount() int {
	return len(g.Members)
}

func (g *GroupChat) CanJoin() bool {
	return g.IsActive && len(g.Members) < g.MaxMembers
}

func (g *GroupChat) AddMember(username string) {
	if g.Members == nil {
		g.Members = make(map[string]bool)
	}
	g.Members[username] = true
	g.UpdatedAt = time.Now().UTC()
}

func (g *GroupChat) RemoveMember(username string) {
	delete(g.Members, username)
	g.UpdatedAt = time.Now().UTC()
}

// GroupView is the group projection returned to a caller. Membership flags
// are computed relative to that caller.
type GroupView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Type         GroupType `json:"type"`
	MaxMembers   int       `json:"maxMembers"`
	MemberCount  int       `json:"memberCount"`
	IsActive     bool      `json:"isActive"`
	Owner        string    `json:"owner"`
	Members      []string  `json:"members"`
	IsUserMember bool      `json:"isUserMember"`
	IsUserOwner  bool      `json:"isUserOwner"`
}

func (g *GroupChat) ViewFor(username string) GroupView {
	return GroupView{
		ID:           g.ID,
		Name:         g.Name,
		Description:  g.Description,
		Type:         g.Type,
		MaxMembers:   g.MaxMembers,
		MemberCount:  g.MemberCount(),
		IsActive:     g.IsActive,
		Owner:        g.Owner,
		Members:      lo.Keys(g.Members),
		IsUserMember: g.IsMember(username),
		IsUserOwner:  g.IsOwner(username),
	}
}
