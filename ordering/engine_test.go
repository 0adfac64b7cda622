package ordering

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/domain/event"
	"github.com/WesleyDev184/bananaChat/errors"
	"github.com/WesleyDev184/bananaChat/mocks"
	"github.com/WesleyDev184/bananaChat/repositories"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// captureEmitter records every emitted event, safe for concurrent accepts.
type captureEmitter struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (c *captureEmitter) Emit(e event.DomainEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureEmitter) all() []event.DomainEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.DomainEvent(nil), c.events...)
}

func testEngine(t *testing.T, db *badger.DB, emitter Emitter) *Engine {
	t.Helper()
	log := slog.Default()
	repo := repositories.NewMessageRepository(db, nil, log, 100)
	return NewEngine(log, repo, emitter, 2*time.Minute, 3)
}

func raw(sender, content, nonce string) domain.RawMessage {
	return domain.RawMessage{
		Sender:  sender,
		Scope:   domain.Global(),
		Content: content,
		Type:    domain.MessageChat,
		Nonce:   nonce,
	}
}

func TestEngine_SeqAndTimestampStrictlyIncrease(t *testing.T) {
	req := require.New(t)
	engine := testEngine(t, openTestDB(t), nil)

	// Given a clock that never advances, forcing timestamp collisions
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return frozen }

	var prev domain.Message
	for i := 0; i < 5; i++ {
		msg, err := engine.Accept(raw("alice", fmt.Sprintf("msg %d", i), ""))
		req.NoError(err)

		// Then order stays strict even under a stalled clock
		if i > 0 {
			req.Equal(prev.Seq+1, msg.Seq)
			req.True(msg.At.After(prev.At), "timestamps must never tie")
		} else {
			req.Equal(uint64(1), msg.Seq)
		}
		prev = msg
	}
}

func TestEngine_PartitionsAreIndependent(t *testing.T) {
	req := require.New(t)
	engine := testEngine(t, openTestDB(t), nil)

	global, err := engine.Accept(raw("alice", "hello", ""))
	req.NoError(err)

	private, err := engine.Accept(domain.RawMessage{
		Sender: "alice", Scope: domain.Private("bob"),
		Content: "psst", Type: domain.MessageChat,
	})
	req.NoError(err)

	// Each scope counts from one
	req.Equal(uint64(1), global.Seq)
	req.Equal(uint64(1), private.Seq)
}

func TestEngine_DuplicateNonceRejected(t *testing.T) {
	req := require.New(t)
	engine := testEngine(t, openTestDB(t), nil)

	// Given an accepted publish with an idempotency key
	first, err := engine.Accept(raw("alice", "hello", "nonce-1"))
	req.NoError(err)

	// When the client retries the same publish
	_, err = engine.Accept(raw("alice", "hello", "nonce-1"))

	// Then the retry is rejected and nothing new is stored
	req.ErrorIs(err, errors.ErrDuplicate)
	messages, _, err := engine.History(domain.Global(), nil, 10)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal(first.ID, messages[0].ID)
}

func TestEngine_NonceScopedPerSenderAndScope(t *testing.T) {
	req := require.New(t)
	engine := testEngine(t, openTestDB(t), nil)

	_, err := engine.Accept(raw("alice", "hello", "nonce-1"))
	req.NoError(err)

	// Same nonce from another sender is a distinct publish
	_, err = engine.Accept(raw("bob", "hello", "nonce-1"))
	req.NoError(err)

	// Same nonce from the same sender into another scope as well
	_, err = engine.Accept(domain.RawMessage{
		Sender: "alice", Scope: domain.Private("bob"),
		Content: "hello", Type: domain.MessageChat, Nonce: "nonce-1",
	})
	req.NoError(err)
}

func TestEngine_EmptyNonceNeverDedups(t *testing.T) {
	req := require.New(t)
	engine := testEngine(t, openTestDB(t), nil)

	_, err := engine.Accept(raw("alice", "hello", ""))
	req.NoError(err)
	_, err = engine.Accept(raw("alice", "hello", ""))
	req.NoError(err)
	req.Zero(engine.SeenNonces("alice"))
}

func TestEngine_RecoversOrderAfterRestart(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	engine := testEngine(t, db, nil)
	var last domain.Message
	for i := 0; i < 3; i++ {
		msg, err := engine.Accept(raw("alice", fmt.Sprintf("msg %d", i), ""))
		req.NoError(err)
		last = msg
	}

	// Given a fresh engine over the same store, as after a restart
	restarted := testEngine(t, db, nil)

	// When the first message after the restart is accepted
	msg, err := restarted.Accept(raw("alice", "back again", ""))

	// Then ordering continues where the durable log ended
	req.NoError(err)
	req.Equal(last.Seq+1, msg.Seq)
	req.True(msg.At.After(last.At))
}

func TestEngine_StoreFailureSurfacesAfterRetries(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockIMessageRepository(ctrl)
	engine := NewEngine(slog.Default(), mockRepo, nil, time.Minute, 3)

	// Given a store that fails every attempt
	mockRepo.EXPECT().Latest(gomock.Any()).Return(domain.Message{}, false, nil)
	mockRepo.EXPECT().StoreMessage(gomock.Any()).Return(fmt.Errorf("disk on fire")).Times(3)

	// When a message is accepted
	_, err := engine.Accept(raw("alice", "hello", "nonce-1"))

	// Then the failure is transient and the nonce stays unseen, so the
	// client can safely retry with the same key
	req.ErrorIs(err, errors.ErrStoreFailed)
	req.Zero(engine.SeenNonces("alice"))
}

func TestEngine_RejectsInvalidMessages(t *testing.T) {
	req := require.New(t)
	engine := testEngine(t, openTestDB(t), nil)

	_, err := engine.Accept(domain.RawMessage{Scope: domain.Global(), Content: "x", Type: domain.MessageChat})
	req.ErrorIs(err, errors.ErrInvalidMessage)

	_, err = engine.Accept(domain.RawMessage{Sender: "alice", Content: "x", Type: domain.MessageChat})
	req.ErrorIs(err, errors.ErrInvalidMessage)

	_, err = engine.Accept(domain.RawMessage{Sender: "alice", Scope: domain.Global(), Content: "x", Type: "BOGUS"})
	req.ErrorIs(err, errors.ErrInvalidMessage)
}

func TestEngine_ConcurrentAcceptsEmitInAcceptanceOrder(t *testing.T) {
	req := require.New(t)
	emitter := &captureEmitter{}
	engine := testEngine(t, openTestDB(t), emitter)

	// Given many publishers hammering the same scope concurrently
	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := engine.Accept(raw(fmt.Sprintf("user-%d", w), fmt.Sprintf("msg %d", i), ""))
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	// Then fan-out sees every message exactly once, in accept order
	events := emitter.all()
	req.Len(events, workers*perWorker)
	var prev uint64
	for _, e := range events {
		accepted, ok := e.(event.MessageAccepted)
		req.True(ok)
		req.Equal(prev+1, accepted.Message.Seq, "delivery order must equal accept order")
		prev = accepted.Message.Seq
	}
}

func TestEngine_PrivateAcceptEmitsSenderEcho(t *testing.T) {
	req := require.New(t)
	emitter := &captureEmitter{}
	engine := testEngine(t, openTestDB(t), emitter)

	msg, err := engine.Accept(domain.RawMessage{
		Sender: "alice", Scope: domain.Private("bob"),
		Content: "psst", Type: domain.MessageChat,
	})
	req.NoError(err)

	// The recipient frame plus the sender's own copy
	events := emitter.all()
	req.Len(events, 2)
	req.Equal(event.MessageAccepted{Message: msg}, events[0])
	req.Equal(event.MessageEcho{Message: msg}, events[1])

	// A note-to-self conversation gets no echo, both halves are one user
	_, err = engine.Accept(domain.RawMessage{
		Sender: "alice", Scope: domain.Private("alice"),
		Content: "remember this", Type: domain.MessageChat,
	})
	req.NoError(err)
	req.Len(emitter.all(), 3)
}

func TestEngine_EditReplacesContentInPlace(t *testing.T) {
	req := require.New(t)
	emitter := &captureEmitter{}
	engine := testEngine(t, openTestDB(t), emitter)

	original, err := engine.Accept(raw("alice", "helo world", ""))
	req.NoError(err)

	edited, err := engine.Edit(domain.Global(), original.Seq, original.ID, "alice", "hello world")
	req.NoError(err)

	// The message keeps its place in the order, only the text changes
	req.Equal(original.Seq, edited.Seq)
	req.Equal(original.At, edited.At)
	req.Equal("hello world", edited.Content)
	req.True(edited.Edited)

	// Readers and subscribers both converge on the edited text
	messages, _, err := engine.History(domain.Global(), nil, 10)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("hello world", messages[0].Content)
	req.True(messages[0].Edited)

	events := emitter.all()
	req.Equal(event.MessageUpdated{Message: edited}, events[len(events)-1])
}

func TestEngine_EditRejectsForeignAndSystemMessages(t *testing.T) {
	req := require.New(t)
	engine := testEngine(t, openTestDB(t), nil)

	chat, err := engine.Accept(raw("alice", "hello", ""))
	req.NoError(err)

	// Only the sender may edit
	_, err = engine.Edit(domain.Global(), chat.Seq, chat.ID, "bob", "hacked")
	req.ErrorIs(err, errors.ErrForbidden)

	// System messages are never editable
	join, err := engine.Accept(domain.RawMessage{
		Sender: "alice", Scope: domain.Global(),
		Content: "alice joined", Type: domain.MessageJoin,
	})
	req.NoError(err)
	_, err = engine.Edit(domain.Global(), join.Seq, join.ID, "alice", "rewritten history")
	req.ErrorIs(err, errors.ErrForbidden)
}

func TestEngine_EditUnknownMessageNotFound(t *testing.T) {
	req := require.New(t)
	engine := testEngine(t, openTestDB(t), nil)

	_, err := engine.Edit(domain.Global(), 42, uuid.New(), "alice", "into the void")
	req.ErrorIs(err, errors.ErrMessageNotFound)
}

func TestEngine_SearchRejectsBlankQuery(t *testing.T) {
	req := require.New(t)
	engine := testEngine(t, openTestDB(t), nil)

	_, err := engine.Search(context.Background(), domain.Global(), "   ", 10)
	req.ErrorIs(err, errors.ErrInvalidMessage)
}
