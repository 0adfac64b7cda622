// Package groups is the membership authority: it owns group entities,
// membership state, and every authorization decision around join, leave,
// send and management operations.
package groups

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/domain/event"
	"github.com/WesleyDev184/bananaChat/errors"
	"github.com/WesleyDev184/bananaChat/repositories"
	"github.com/google/uuid"
)

const DefaultMaxMembers = 100

// Emitter pushes a group update onto the broadcast pipeline.
type Emitter interface {
	Emit(e event.DomainEvent)
}

type CreateGroupRequest struct {
	Name        string           `json:"name" validate:"required,max=100"`
	Description string           `json:"description" validate:"max=500"`
	Type        domain.GroupType `json:"type"`
	MaxMembers  int              `json:"maxMembers"`
}

// Service serializes every mutating operation under one mutex; group
// mutations are rare next to message traffic, so a single lock keeps the
// check-then-write sequences trivially atomic.
type Service struct {
	mu       sync.Mutex
	log      *slog.Logger
	repo     repositories.IGroupRepository
	emitter  Emitter
	teardown func(channelKey string)
}

func NewService(log *slog.Logger, repo repositories.IGroupRepository, emitter Emitter, teardown func(channelKey string)) *Service {
	return &Service{log: log, repo: repo, emitter: emitter, teardown: teardown}
}

// Create validates the request and persists a new group with the owner as
// its first member.
func (s *Service) Create(owner string, req CreateGroupRequest) (domain.GroupView, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 100 {
		return domain.GroupView{}, errors.ErrInvalidName
	}
	maxMembers := req.MaxMembers
	if maxMembers == 0 {
		maxMembers = DefaultMaxMembers
	}
	if maxMembers < domain.MinGroupMembers || maxMembers > domain.MaxGroupMembers {
		return domain.GroupView{}, errors.ErrInvalidCapacity
	}
	groupType := req.Type
	if groupType == "" {
		groupType = domain.GroupPublic
	}
	if !groupType.IsValid() {
		return domain.GroupView{}, errors.ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	taken, err := s.repo.NameInUse(name)
	if err != nil {
		return domain.GroupView{}, err
	}
	if taken {
		return domain.GroupView{}, errors.ErrNameTaken
	}

	now := time.Now().UTC()
	group := &domain.GroupChat{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Type:        groupType,
		MaxMembers:  maxMembers,
		Owner:       owner,
		Members:     map[string]bool{owner: true},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.SaveGroup(group); err != nil {
		return domain.GroupView{}, err
	}

	s.log.Info("Group created", "group_id", group.ID, "name", group.Name, "owner", owner)
	s.announce(event.GroupCreated, group, owner)
	return group.ViewFor(owner), nil
}

// Join adds a user to a group. Self-join only works on public groups;
// private and restricted groups require the owner to add the target via
// AddMember.
func (s *Service) Join(groupID, username string) (domain.GroupView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return domain.GroupView{}, err
	}
	if !group.IsActive {
		return domain.GroupView{}, errors.ErrGroupInactive
	}
	if group.IsMember(username) {
		return domain.GroupView{}, errors.ErrAlreadyMember
	}
	if group.Type != domain.GroupPublic {
		return domain.GroupView{}, errors.ErrJoinRestricted
	}
	return s.addLocked(group, username)
}

// AddMember is the owner-initiated add used by private and restricted
// groups (and allowed on public ones).
func (s *Service) AddMember(groupID, actingUser, target string) (domain.GroupView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return domain.GroupView{}, err
	}
	if !group.IsOwner(actingUser) {
		return domain.GroupView{}, errors.ErrForbidden
	}
	if !group.IsActive {
		return domain.GroupView{}, errors.ErrGroupInactive
	}
	if group.IsMember(target) {
		return domain.GroupView{}, errors.ErrAlreadyMember
	}
	return s.addLocked(group, target)
}

func (s *Service) addLocked(group *domain.GroupChat, username string) (domain.GroupView, error) {
	if group.MemberCount() >= group.MaxMembers {
		return domain.GroupView{}, errors.ErrGroupFull
	}
	group.AddMember(username)
	if err := s.repo.SaveGroup(group); err != nil {
		return domain.GroupView{}, err
	}
	s.log.Info("Member added", "group_id", group.ID, "username", username)
	s.announce(event.MemberAdded, group, username)
	return group.ViewFor(username), nil
}

// Leave removes the caller from a group. The owner cannot leave: the group
// must be deleted (or ownership transferred out of band) first.
func (s *Service) Leave(groupID, username string) (domain.GroupView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return domain.GroupView{}, err
	}
	if !group.IsMember(username) {
		return domain.GroupView{}, errors.ErrNotMember
	}
	if group.IsOwner(username) {
		return domain.GroupView{}, errors.ErrOwnerCannotLeave
	}

	group.RemoveMember(username)
	if err := s.repo.SaveGroup(group); err != nil {
		return domain.GroupView{}, err
	}
	s.log.Info("Member left", "group_id", group.ID, "username", username)
	s.announce(event.MemberRemoved, group, username)
	return group.ViewFor(username), nil
}

// RemoveMember lets the owner expel a member. The removed member stops
// receiving group messages at the next publish; no unsubscribe is needed.
func (s *Service) RemoveMember(groupID, actingUser, target string) (domain.GroupView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return domain.GroupView{}, err
	}
	if !group.IsOwner(actingUser) {
		return domain.GroupView{}, errors.ErrForbidden
	}
	if group.IsOwner(target) {
		return domain.GroupView{}, errors.ErrCannotRemoveOwner
	}
	if !group.IsMember(target) {
		return domain.GroupView{}, errors.ErrNotMember
	}

	group.RemoveMember(target)
	if err := s.repo.SaveGroup(group); err != nil {
		return domain.GroupView{}, err
	}
	s.log.Info("Member removed", "group_id", group.ID, "username", target, "by", actingUser)
	s.announce(event.MemberRemoved, group, target)
	return group.ViewFor(actingUser), nil
}

// Update changes name and/or description. Empty fields keep their value.
func (s *Service) Update(groupID, actingUser, name, description string) (domain.GroupView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return domain.GroupView{}, err
	}
	if !group.IsOwner(actingUser) {
		return domain.GroupView{}, errors.ErrForbidden
	}

	previousName := group.Name
	name = strings.TrimSpace(name)
	if name != "" && name != group.Name {
		if len(name) > 100 {
			return domain.GroupView{}, errors.ErrInvalidName
		}
		taken, err := s.repo.NameInUse(name)
		if err != nil {
			return domain.GroupView{}, err
		}
		if taken {
			return domain.GroupView{}, errors.ErrNameTaken
		}
		group.Name = name
	}
	if description = strings.TrimSpace(description); description != "" {
		group.Description = description
	}
	group.UpdatedAt = time.Now().UTC()

	if group.Name != previousName {
		// The name index swap must ride the same transaction as the save,
		// or a failed save leaves the old name released.
		if err := s.repo.RenameGroup(group, previousName); err != nil {
			return domain.GroupView{}, err
		}
	} else if err := s.repo.SaveGroup(group); err != nil {
		return domain.GroupView{}, err
	}
	s.log.Info("Group updated", "group_id", group.ID, "by", actingUser)
	s.announce(event.GroupUpdated, group, actingUser)
	return group.ViewFor(actingUser), nil
}

// Delete removes the group entirely. The group topic is torn down so every
// subscription disappears, and later join/subscribe on the id resolve to
// not-found.
func (s *Service) Delete(groupID, actingUser string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return err
	}
	if !group.IsOwner(actingUser) {
		return errors.ErrForbidden
	}

	if err := s.repo.DeleteGroup(groupID); err != nil {
		return err
	}
	if err := s.repo.ReleaseName(group.Name); err != nil {
		return err
	}
	if s.teardown != nil {
		s.teardown(domain.Group(groupID).Key())
	}
	s.log.Info("Group deleted", "group_id", groupID, "by", actingUser)
	s.announce(event.GroupDeleted, group, actingUser)
	return nil
}

// Get returns the group projection relative to the caller.
func (s *Service) Get(groupID, username string) (domain.GroupView, error) {
	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return domain.GroupView{}, err
	}
	return group.ViewFor(username), nil
}

// List returns all active groups visible to the caller: public groups plus
// any group the caller is a member of, sorted by name.
func (s *Service) List(username string) ([]domain.GroupView, error) {
	all, err := s.repo.ListGroups()
	if err != nil {
		return nil, err
	}
	var views []domain.GroupView
	for _, group := range all {
		if !group.IsActive {
			continue
		}
		if group.Type != domain.GroupPublic && !group.IsMember(username) {
			continue
		}
		views = append(views, group.ViewFor(username))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views, nil
}

// IsMember implements the router's membership check, consulted at subscribe
// time and again at every group publish.
func (s *Service) IsMember(groupID, username string) bool {
	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return false
	}
	return group.IsActive && group.IsMember(username)
}

// GroupActive reports whether the group exists and is active.
func (s *Service) GroupActive(groupID string) bool {
	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return false
	}
	return group.IsActive
}

// CanSend authorizes a publish into the group scope.
func (s *Service) CanSend(groupID, username string) error {
	group, err := s.repo.GetGroup(groupID)
	if err != nil {
		return err
	}
	if !group.IsActive {
		return errors.ErrGroupInactive
	}
	if !group.IsMember(username) {
		return errors.ErrNotMember
	}
	return nil
}

func (s *Service) announce(action string, group *domain.GroupChat, username string) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(event.GroupChanged{
		Action:   action,
		GroupID:  group.ID,
		Username: username,
		Group:    group.ViewFor(username),
	})
}
