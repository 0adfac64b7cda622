//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type IUserRepository interface {
	TouchUser(username string, at time.Time) error
	GetUser(username string) (User, bool, error)
}

// User is the durable record kept per username: when the name was first
// bound to a connection and when it was last seen. Authentication lives
// upstream; this table only backs presence history and tooling.
type User struct {
	Username  string    `json:"username"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) UserRepository {
	return UserRepository{db: db}
}

func userKey(username string) []byte {
	return []byte("user:" + username)
}

// TouchUser records a sighting of the username, creating the record on
// first bind.
func (u UserRepository) TouchUser(username string, at time.Time) error {
	return u.db.Update(func(txn *badger.Txn) error {
		record := User{Username: username, FirstSeen: at, LastSeen: at}
		item, err := txn.Get(userKey(username))
		switch {
		case goerrors.Is(err, badger.ErrKeyNotFound):
			// first sighting, keep the fresh record
		case err != nil:
			return err
		default:
			if err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &record)
			}); err != nil {
				return err
			}
			record.LastSeen = at
		}
		bytes, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return txn.Set(userKey(username), bytes)
	})
}

func (u UserRepository) GetUser(username string) (User, bool, error) {
	var record User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &record)
		})
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return record, true, nil
}
