package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/errors"
)

func sampleGroup(id, name, owner string) *domain.GroupChat {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.GroupChat{
		ID:         id,
		Name:       name,
		Type:       domain.GroupPublic,
		MaxMembers: 10,
		Owner:      owner,
		Members:    map[string]bool{owner: true},
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestGroupRepository_RoundTrip(t *testing.T) {
	req := require.New(t)
	repo := NewGroupRepository(openTestDB(t))

	group := sampleGroup("g1", "gophers", "alice")
	req.NoError(repo.SaveGroup(group))

	loaded, err := repo.GetGroup("g1")
	req.NoError(err)
	req.Equal(group.Name, loaded.Name)
	req.Equal(group.Members, loaded.Members)
	req.True(loaded.IsActive)
}

func TestGroupRepository_GetMissing(t *testing.T) {
	req := require.New(t)
	repo := NewGroupRepository(openTestDB(t))

	_, err := repo.GetGroup("nope")
	req.ErrorIs(err, errors.ErrGroupNotFound)
}

func TestGroupRepository_DeleteAndReleaseName(t *testing.T) {
	req := require.New(t)
	repo := NewGroupRepository(openTestDB(t))

	req.NoError(repo.SaveGroup(sampleGroup("g1", "gophers", "alice")))

	taken, err := repo.NameInUse("GOPHERS")
	req.NoError(err)
	req.True(taken)

	req.NoError(repo.DeleteGroup("g1"))
	_, err = repo.GetGroup("g1")
	req.ErrorIs(err, errors.ErrGroupNotFound)

	// The name stays reserved until explicitly released
	taken, err = repo.NameInUse("gophers")
	req.NoError(err)
	req.True(taken)

	req.NoError(repo.ReleaseName("gophers"))
	taken, err = repo.NameInUse("gophers")
	req.NoError(err)
	req.False(taken)

	// Releasing twice is harmless
	req.NoError(repo.ReleaseName("gophers"))
}

func TestGroupRepository_RenameSwapsNameIndexAtomically(t *testing.T) {
	req := require.New(t)
	repo := NewGroupRepository(openTestDB(t))

	group := sampleGroup("g1", "gophers", "alice")
	req.NoError(repo.SaveGroup(group))

	group.Name = "rustaceans"
	req.NoError(repo.RenameGroup(group, "gophers"))

	// One call moved the name: old freed, new reserved, record updated
	taken, err := repo.NameInUse("gophers")
	req.NoError(err)
	req.False(taken)

	taken, err = repo.NameInUse("rustaceans")
	req.NoError(err)
	req.True(taken)

	loaded, err := repo.GetGroup("g1")
	req.NoError(err)
	req.Equal("rustaceans", loaded.Name)
}

func TestGroupRepository_ListGroups(t *testing.T) {
	req := require.New(t)
	repo := NewGroupRepository(openTestDB(t))

	req.NoError(repo.SaveGroup(sampleGroup("g1", "one", "alice")))
	req.NoError(repo.SaveGroup(sampleGroup("g2", "two", "bob")))

	groups, err := repo.ListGroups()
	req.NoError(err)
	req.Len(groups, 2)
}

func TestUserRepository_TouchKeepsFirstSeen(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	_, found, err := repo.GetUser("alice")
	req.NoError(err)
	req.False(found)

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)
	req.NoError(repo.TouchUser("alice", first))
	req.NoError(repo.TouchUser("alice", later))

	record, found, err := repo.GetUser("alice")
	req.NoError(err)
	req.True(found)
	req.Equal(first, record.FirstSeen)
	req.Equal(later, record.LastSeen)
}
