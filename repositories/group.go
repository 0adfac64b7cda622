//go:generate go run go.uber.org/mock/mockgen -source=group.go -destination=../mocks/mock_group_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"
	"strings"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/errors"
	"github.com/dgraph-io/badger/v4"
)

type IGroupRepository interface {
	SaveGroup(group *domain.GroupChat) error
	RenameGroup(group *domain.GroupChat, previousName string) error
	GetGroup(id string) (*domain.GroupChat, error)
	DeleteGroup(id string) error
	ListGroups() ([]*domain.GroupChat, error)
	NameInUse(name string) (bool, error)
	ReleaseName(name string) error
}

// GroupRepository persists group entities in BadgerDB. Keys:
//
//	group:{id}        -> JSON group record
//	groupname:{name}  -> group id, the uniqueness index for active names
type GroupRepository struct {
	db *badger.DB
}

func NewGroupRepository(db *badger.DB) GroupRepository {
	return GroupRepository{db: db}
}

func groupKey(id string) []byte {
	return []byte("group:" + id)
}

func groupNameKey(name string) []byte {
	return []byte("groupname:" + strings.ToLower(name))
}

// SaveGroup writes the record and its name index in one transaction.
func (g GroupRepository) SaveGroup(group *domain.GroupChat) error {
	bytes, err := json.Marshal(group)
	if err != nil {
		return err
	}
	return g.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(groupKey(group.ID), bytes); err != nil {
			return err
		}
		return txn.Set(groupNameKey(group.Name), []byte(group.ID))
	})
}

// RenameGroup writes the record and swaps the name index entries in one
// transaction, so a failed save never strands the old name half-released.
func (g GroupRepository) RenameGroup(group *domain.GroupChat, previousName string) error {
	bytes, err := json.Marshal(group)
	if err != nil {
		return err
	}
	return g.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(groupNameKey(previousName)); err != nil && !goerrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(groupKey(group.ID), bytes); err != nil {
			return err
		}
		return txn.Set(groupNameKey(group.Name), []byte(group.ID))
	})
}

func (g GroupRepository) GetGroup(id string) (*domain.GroupChat, error) {
	var group domain.GroupChat
	err := g.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(groupKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &group)
		})
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// DeleteGroup removes the record; the name index entry is released
// separately so callers control when the name becomes reusable.
func (g GroupRepository) DeleteGroup(id string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(groupKey(id))
		if goerrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (g GroupRepository) ListGroups() ([]*domain.GroupChat, error) {
	var groups []*domain.GroupChat
	err := g.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("group:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(value []byte) error {
				var group domain.GroupChat
				if err := json.Unmarshal(value, &group); err != nil {
					return err
				}
				groups = append(groups, &group)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return groups, err
}

func (g GroupRepository) NameInUse(name string) (bool, error) {
	err := g.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(groupNameKey(name))
		return err
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseName frees a name index entry, so a deleted group's name can be
// reused by a new group.
func (g GroupRepository) ReleaseName(name string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(groupNameKey(name))
		if goerrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
