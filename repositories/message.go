//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	GetMessage(scope domain.Scope, seq uint64, id uuid.UUID) (domain.Message, bool, error)
	History(scope domain.Scope, cursor *string, limit int) ([]domain.Message, *string, error)
	SearchMessages(ctx context.Context, scope domain.Scope, query string, limit int) ([]domain.Message, error)
	Latest(scope domain.Scope) (domain.Message, bool, error)
}

type MessageRepository struct {
	db       *badger.DB
	index    *MessageIndex
	log      *slog.Logger
	maxLimit int
}

// NewMessageRepository builds the durable message log. A nil index disables
// full-text search; everything else keeps working.
func NewMessageRepository(db *badger.DB, index *MessageIndex, log *slog.Logger, maxLimit int) MessageRepository {
	return MessageRepository{db: db, index: index, log: log, maxLimit: maxLimit}
}

// messageKey builds the storage key "msg:{scope_key}:{seq_padded}:{uuid}".
// The 19-digit zero padding keeps lexicographical order equal to sequence
// order, and the UUID tail disambiguates keys if a partition is ever rebuilt.
func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.Scope.Key(), m.Seq, m.ID))
}

func scopePrefix(scope domain.Scope) []byte {
	return []byte(fmt.Sprintf("msg:%s:", scope.Key()))
}

// StoreMessage persists a message in BadgerDB and feeds the search index.
// The append is the sole source of truth for what History returns; a failed
// index write only hides the message from search, never from history.
// Writing an existing key again (an edit) replaces both the record and its
// index document.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), bytes)
	}); err != nil {
		return err
	}
	if m.index != nil {
		if err := m.index.Index(message); err != nil {
			m.log.Warn("Message index write failed",
				"scope", message.Scope.Key(), "id", message.ID, "error", err)
		}
	}
	return nil
}

// GetMessage fetches one message by its exact position in the partition.
func (m MessageRepository) GetMessage(scope domain.Scope, seq uint64, id uuid.UUID) (domain.Message, bool, error) {
	var msg domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageKey(domain.Message{Scope: scope, Seq: seq, ID: id}))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &msg)
		})
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

// History retrieves one page of messages for a scope using a reverse prefix
// scan. Thanks to the padded sequence in the key, iteration order is exactly
// acceptance order. Pages walk backward in time through the opaque cursor;
// each page is returned oldest-first.
func (m MessageRepository) History(scope domain.Scope, cursor *string, limit int) ([]domain.Message, *string, error) {
	if limit <= 0 || limit > m.maxLimit {
		limit = m.maxLimit
	}

	var raw [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := scopePrefix(scope)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible sequence, then walk backward.
			seekKey = append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		default:
			seekKey = append(append([]byte{}, prefix...), []byte(*cursor)...)
		}

		it.Seek(seekKey)

		// A cursor points at the last item of the previous page; skip it.
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(raw) == limit {
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			if err := item.Value(func(value []byte) error {
				raw = append(raw, append([]byte{}, value...))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return nil, nil, nil
	}

	// Reverse scan yields newest-first; flip so pages read oldest-first.
	messages := make([]domain.Message, len(raw))
	for i, b := range raw {
		var msg domain.Message
		if err = json.Unmarshal(b, &msg); err != nil {
			return nil, nil, err
		}
		messages[len(raw)-1-i] = msg
	}
	return messages, &lastKey, nil
}

// SearchMessages runs a full-text query against the index and resolves the
// hits back through the durable log, so results always show the stored
// (censored, possibly edited) content. Results come back oldest-first, like
// a history page. Without an index attached there are no matches.
func (m MessageRepository) SearchMessages(ctx context.Context, scope domain.Scope, query string, limit int) ([]domain.Message, error) {
	if m.index == nil {
		return nil, nil
	}
	if limit <= 0 || limit > m.maxLimit {
		limit = m.maxLimit
	}

	keys, err := m.index.Search(ctx, scope.Key(), query, limit)
	if err != nil {
		return nil, err
	}

	var messages []domain.Message
	err = m.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get(key)
			if goerrors.Is(err, badger.ErrKeyNotFound) {
				// Index document outlived its record; skip it.
				continue
			}
			if err != nil {
				return err
			}
			var msg domain.Message
			if err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The index returns newest-first; flip to match history pages.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Latest returns the newest message of a scope partition, used by the
// ordering engine to restore its sequence state after a restart.
func (m MessageRepository) Latest(scope domain.Scope) (domain.Message, bool, error) {
	var found bool
	var msg domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := scopePrefix(scope)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		it.Seek(seekKey)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(value []byte) error {
			if err := json.Unmarshal(value, &msg); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	return msg, found, err
}
