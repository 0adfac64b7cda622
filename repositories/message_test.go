package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/WesleyDev184/bananaChat/domain"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storeSequence(t *testing.T, repo MessageRepository, scope domain.Scope, count int) []domain.Message {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	messages := make([]domain.Message, count)
	for i := 0; i < count; i++ {
		messages[i] = domain.Message{
			ID:      uuid.New(),
			Seq:     uint64(i + 1),
			Sender:  "alice",
			Scope:   scope,
			Content: fmt.Sprintf("msg %d", i+1),
			Type:    domain.MessageChat,
			At:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.StoreMessage(messages[i]))
	}
	return messages
}

func TestMessageRepository_HistoryPagination(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(openTestDB(t), nil, slog.Default(), 100)
	stored := storeSequence(t, repo, domain.Global(), 25)

	// First page holds the newest 10 messages, oldest-first within the page
	page, cursor, err := repo.History(domain.Global(), nil, 10)
	req.NoError(err)
	req.Len(page, 10)
	req.NotNil(cursor)
	req.Equal(uint64(16), page[0].Seq)
	req.Equal(uint64(25), page[9].Seq)

	// The cursor walks backward through older pages
	page, cursor, err = repo.History(domain.Global(), cursor, 10)
	req.NoError(err)
	req.Len(page, 10)
	req.Equal(uint64(6), page[0].Seq)
	req.Equal(uint64(15), page[9].Seq)

	page, cursor, err = repo.History(domain.Global(), cursor, 10)
	req.NoError(err)
	req.Len(page, 5)
	req.Equal(uint64(1), page[0].Seq)
	req.Equal(stored[0].ID, page[0].ID)

	// Past the beginning there is nothing left
	page, cursor, err = repo.History(domain.Global(), cursor, 10)
	req.NoError(err)
	req.Empty(page)
	req.Nil(cursor)
}

func TestMessageRepository_HistoryCursorIsIdempotent(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(openTestDB(t), nil, slog.Default(), 100)
	storeSequence(t, repo, domain.Global(), 10)

	_, cursor, err := repo.History(domain.Global(), nil, 4)
	req.NoError(err)

	first, _, err := repo.History(domain.Global(), cursor, 4)
	req.NoError(err)
	second, _, err := repo.History(domain.Global(), cursor, 4)
	req.NoError(err)
	req.Equal(first, second)
}

func TestMessageRepository_HistoryCapsLimit(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(openTestDB(t), nil, slog.Default(), 5)
	storeSequence(t, repo, domain.Global(), 10)

	page, _, err := repo.History(domain.Global(), nil, 1000)
	req.NoError(err)
	req.Len(page, 5)

	page, _, err = repo.History(domain.Global(), nil, -1)
	req.NoError(err)
	req.Len(page, 5)
}

func TestMessageRepository_ScopesAreIsolated(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(openTestDB(t), nil, slog.Default(), 100)
	storeSequence(t, repo, domain.Global(), 3)
	storeSequence(t, repo, domain.Private("bob"), 2)
	storeSequence(t, repo, domain.Group("g1"), 1)

	page, _, err := repo.History(domain.Private("bob"), nil, 10)
	req.NoError(err)
	req.Len(page, 2)
	for _, msg := range page {
		req.Equal(domain.Private("bob"), msg.Scope)
	}
}

func openTestIndex(t *testing.T) *MessageIndex {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	return NewMessageIndex(writer, slog.Default())
}

func TestMessageRepository_GetMessageRoundTrip(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(openTestDB(t), nil, slog.Default(), 100)
	stored := storeSequence(t, repo, domain.Global(), 3)

	msg, found, err := repo.GetMessage(domain.Global(), stored[1].Seq, stored[1].ID)
	req.NoError(err)
	req.True(found)
	req.Equal(stored[1], msg)

	// A wrong id at a real seq misses, it is a different message
	_, found, err = repo.GetMessage(domain.Global(), stored[1].Seq, uuid.New())
	req.NoError(err)
	req.False(found)
}

func TestMessageRepository_SearchFindsMatchesInScope(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(openTestDB(t), openTestIndex(t), slog.Default(), 100)

	store := func(scope domain.Scope, seq uint64, content string) domain.Message {
		msg := domain.Message{
			ID: uuid.New(), Seq: seq, Sender: "alice", Scope: scope,
			Content: content, Type: domain.MessageChat,
			At: time.Date(2026, 3, 1, 12, 0, int(seq), 0, time.UTC),
		}
		require.NoError(t, repo.StoreMessage(msg))
		return msg
	}

	first := store(domain.Global(), 1, "the roadmap for march")
	store(domain.Global(), 2, "lunch anyone?")
	second := store(domain.Global(), 3, "updated roadmap attached")
	store(domain.Private("bob"), 1, "secret roadmap draft")

	// Only the queried scope's matches come back, oldest-first
	hits, err := repo.SearchMessages(context.Background(), domain.Global(), "roadmap", 10)
	req.NoError(err)
	req.Len(hits, 2)
	req.Equal(first.ID, hits[0].ID)
	req.Equal(second.ID, hits[1].ID)
}

func TestMessageRepository_SearchReflectsEdits(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(openTestDB(t), openTestIndex(t), slog.Default(), 100)

	msg := domain.Message{
		ID: uuid.New(), Seq: 1, Sender: "alice", Scope: domain.Global(),
		Content: "draft agenda", Type: domain.MessageChat,
		At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	req.NoError(repo.StoreMessage(msg))

	// Re-storing the same message replaces its index document
	msg.Content = "final minutes"
	msg.Edited = true
	req.NoError(repo.StoreMessage(msg))

	hits, err := repo.SearchMessages(context.Background(), domain.Global(), "agenda", 10)
	req.NoError(err)
	req.Empty(hits)

	hits, err = repo.SearchMessages(context.Background(), domain.Global(), "minutes", 10)
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal("final minutes", hits[0].Content)
	req.True(hits[0].Edited)
}

func TestMessageRepository_SearchWithoutIndex(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(openTestDB(t), nil, slog.Default(), 100)
	storeSequence(t, repo, domain.Global(), 3)

	// With no index wired, search degrades to no matches
	hits, err := repo.SearchMessages(context.Background(), domain.Global(), "msg", 10)
	req.NoError(err)
	req.Empty(hits)
}

func TestMessageRepository_Latest(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(openTestDB(t), nil, slog.Default(), 100)

	_, found, err := repo.Latest(domain.Global())
	req.NoError(err)
	req.False(found)

	stored := storeSequence(t, repo, domain.Global(), 7)
	latest, found, err := repo.Latest(domain.Global())
	req.NoError(err)
	req.True(found)
	req.Equal(stored[6].ID, latest.ID)
	req.Equal(uint64(7), latest.Seq)
}
