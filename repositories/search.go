package repositories

import (
	"context"
	"log/slog"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/blugelabs/bluge"
)

// MessageIndex is the full-text index over message content, one document
// per message keyed by the message UUID. The badger log stays the single
// source of truth: the index stores only the log key of each hit.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

// Index writes the search document for a message. Re-indexing the same
// message id replaces the previous document, which is how edits stay
// searchable under their new content.
func (i *MessageIndex) Index(msg domain.Message) error {
	doc := bluge.NewDocument(msg.ID.String()).
		AddField(bluge.NewKeywordField("scope", msg.Scope.Key())).
		AddField(bluge.NewTextField("content", msg.Content)).
		AddField(bluge.NewNumericField("seq", float64(msg.Seq)).Sortable()).
		AddField(bluge.NewStoredOnlyField("key", messageKey(msg)))
	return i.writer.Update(doc.ID(), doc)
}

// Search returns the log keys of the messages in one scope matching the
// query, newest-first, capped at limit.
func (i *MessageIndex) Search(ctx context.Context, scopeKey, query string, limit int) ([][]byte, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Failed to close index reader", "error", err)
		}
	}()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(query).SetField("content")).
		AddMust(bluge.NewTermQuery(scopeKey).SetField("scope"))
	request := bluge.NewTopNSearch(limit, q).SortBy([]string{"-seq"})

	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var keys [][]byte
	match, err := iterator.Next()
	for err == nil && match != nil {
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "key" {
				keys = append(keys, append([]byte{}, value...))
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, err
	}
	return keys, nil
}
