package session

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/WesleyDev184/bananaChat/errors"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestRegistry_BindAndResolve(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())

	// Given a registered connection
	id := registry.Register()

	// When it binds a username
	req.NoError(registry.Bind(id, "alice"))

	// Then the binding resolves both ways
	username, ok := registry.Username(id)
	req.True(ok)
	req.Equal("alice", username)
	req.True(registry.IsOnline("alice"))
	req.ElementsMatch([]string{id}, registry.ConnectionsFor("alice"))
}

func TestRegistry_RebindSameUsernameIsIdempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())
	id := registry.Register()

	req.NoError(registry.Bind(id, "alice"))
	req.NoError(registry.Bind(id, "alice"))
}

func TestRegistry_RebindDifferentUsernameFails(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())
	id := registry.Register()

	req.NoError(registry.Bind(id, "alice"))
	req.ErrorIs(registry.Bind(id, "bob"), errors.ErrAlreadyBound)

	// The original binding survives the failed attempt
	username, ok := registry.Username(id)
	req.True(ok)
	req.Equal("alice", username)
}

func TestRegistry_BindUnknownSession(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())

	req.ErrorIs(registry.Bind("nope", "alice"), errors.ErrUnknownSession)
}

func TestRegistry_MultiDevicePresenceTransitions(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())

	var mu sync.Mutex
	var transitions []bool
	registry.OnBindTransition(func(username string, online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})

	// Given two devices of the same user
	first := registry.Register()
	second := registry.Register()

	// When both bind, only the first bind is a presence transition
	req.NoError(registry.Bind(first, "alice"))
	req.NoError(registry.Bind(second, "alice"))
	req.Equal([]bool{true}, transitions)

	// When the first device disconnects the user stays online
	freed, last := registry.Unregister(first)
	req.False(last)
	req.Empty(freed)
	req.True(registry.IsOnline("alice"))

	// Then only the last disconnect frees the username
	freed, last = registry.Unregister(second)
	req.True(last)
	req.Equal("alice", freed)
	req.False(registry.IsOnline("alice"))
	req.Equal([]bool{true, false}, transitions)
}

func TestRegistry_ConcurrentTransitionsStayOrdered(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())

	var mu sync.Mutex
	var transitions []bool
	registry.OnBindTransition(func(username string, online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})

	// Given many goroutines churning the same username on and off
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := registry.Register()
				if err := registry.Bind(id, "alice"); err != nil {
					registry.Unregister(id)
					continue
				}
				registry.Unregister(id)
			}
		}()
	}
	wg.Wait()

	// Then the listener saw a strict online/offline alternation starting
	// with online, never an offline before its matching online
	req.NotEmpty(transitions)
	for i, online := range transitions {
		req.Equal(i%2 == 0, online, "transition %d out of order", i)
	}
	req.False(transitions[len(transitions)-1])
}

func TestRegistry_UnregisterUnboundSession(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())
	id := registry.Register()

	freed, last := registry.Unregister(id)
	req.False(last)
	req.Empty(freed)

	_, ok := registry.Username(id)
	req.False(ok)
}

func TestRegistry_OnlineUsers(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())

	a := registry.Register()
	b := registry.Register()
	req.NoError(registry.Bind(a, "alice"))
	req.NoError(registry.Bind(b, "bob"))

	req.ElementsMatch([]string{"alice", "bob"}, registry.OnlineUsers())
}
