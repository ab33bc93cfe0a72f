package chat

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, maxAuthenticated int) *Registry {
	t.Helper()
	r := NewRegistry(128, "SERVER", maxAuthenticated, nil)
	go r.Run()
	t.Cleanup(func() {
		r.Stop()
		r.Wait()
	})
	return r
}

func newTestSession(t *testing.T, r *Registry) *Session {
	t.Helper()
	s := NewSession(nil, 256)
	require.NoError(t, r.Add(s))
	return s
}

func authenticate(t *testing.T, r *Registry, username string) *Session {
	t.Helper()
	s := newTestSession(t, r)
	require.NoError(t, r.Authenticate(s, username))
	return s
}

// drainRaw returns every message currently queued for s without blocking.
func drainRaw(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case b, ok := <-s.out:
			if !ok {
				return out
			}
			out = append(out, b)
		default:
			return out
		}
	}
}

func drain(t *testing.T, s *Session) []Envelope {
	t.Helper()
	var envs []Envelope
	for _, b := range drainRaw(s) {
		for frame, err := range DecodeBatch(b) {
			require.NoError(t, err)
			envs = append(envs, frame.Envelope)
		}
	}
	return envs
}

func texts(envs []Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Text)
	}
	return out
}

func TestRegistry_AuthenticateRejectsDuplicateUsername(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, 0)

	first := authenticate(t, r, "alice")
	second := newTestSession(t, r)

	req.ErrorIs(r.Authenticate(second, "alice"), ErrAlreadyLoggedIn)
	req.True(first.Authenticated())
	req.False(second.Authenticated())
	req.Equal(UnknownUser, second.Username())
	req.Equal([]string{"alice"}, r.OnlineUsernames())
}

func TestRegistry_AuthenticateEnforcesCapacity(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, 1)

	authenticate(t, r, "alice")
	bob := newTestSession(t, r)

	req.ErrorIs(r.Authenticate(bob, "bob"), ErrCapacityExceeded)
	req.Equal(1, r.CountAuthenticated())
	req.Equal([]string{"alice"}, r.OnlineUsernames())
}

func TestRegistry_AuthenticateRequiresRegisteredSession(t *testing.T) {
	r := newTestRegistry(t, 0)
	require.ErrorIs(t, r.Authenticate(NewSession(nil, 1), "ghost"), ErrSessionClosed)
}

func TestRegistry_UsersReflectJoinLeave(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, 0)

	authenticate(t, r, "alice")
	newTestSession(t, r)
	bob := authenticate(t, r, "bob")

	req.Equal([]string{"alice", "bob"}, r.OnlineUsernames())
	req.Equal(2, r.CountAuthenticated())

	found, ok := r.FindAuthenticatedByUsername("bob")
	req.True(ok)
	req.Same(bob, found)

	req.True(r.Remove(bob))
	req.Equal([]string{"alice"}, r.OnlineUsernames())

	_, ok = r.FindAuthenticatedByUsername("bob")
	req.False(ok)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, 0)
	s := newTestSession(t, r)

	req.True(r.Remove(s))
	req.False(r.Remove(s))
	req.False(r.Remove(NewSession(nil, 1)))
}

func TestRegistry_BroadcastSkipsSenderAndUnauthenticated(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, 0)

	alice := authenticate(t, r, "alice")
	bob := authenticate(t, r, "bob")
	anon := newTestSession(t, r)

	req.NoError(r.Broadcast(alice, []byte("payload")))

	req.Empty(drainRaw(alice))
	req.Empty(drainRaw(anon))
	req.Equal([][]byte{[]byte("payload")}, drainRaw(bob))
}

func TestRegistry_BroadcastIsolatesFailingRecipient(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, 0)

	alice := authenticate(t, r, "alice")
	bob := authenticate(t, r, "bob")
	carol := authenticate(t, r, "carol")
	bob.Close()

	err := r.Broadcast(alice, []byte("payload"))
	req.ErrorIs(err, ErrSessionClosed)
	req.Contains(err.Error(), "bob")
	req.Equal([][]byte{[]byte("payload")}, drainRaw(carol))
}

func TestRegistry_PublishOnlineListReachesEveryone(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, 0)

	alice := authenticate(t, r, "alice")
	bob := authenticate(t, r, "bob")
	anon := newTestSession(t, r)

	req.NoError(r.PublishOnlineList("2024-01-02 03:04:05", true))

	for _, s := range []*Session{alice, bob} {
		raw := drainRaw(s)
		req.Len(raw, 1)
		req.True(bytes.HasSuffix(raw[0], []byte(BatchDelimiter)))

		var envs []Envelope
		for frame, err := range DecodeBatch(raw[0]) {
			req.NoError(err)
			envs = append(envs, frame.Envelope)
		}
		req.Equal([]Envelope{{
			Author:     "SERVER",
			Recipients: []string{AllUsers},
			Text:       "/now_online alice bob",
			Datetime:   "2024-01-02 03:04:05",
		}}, envs)
	}
	req.Empty(drainRaw(anon))

	req.NoError(r.PublishOnlineList("2024-01-02 03:04:05", false))
	raw := drainRaw(alice)
	req.Len(raw, 1)
	req.False(bytes.HasSuffix(raw[0], []byte(BatchDelimiter)))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, 0)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewSession(nil, 8)
			_ = r.Add(s)
			_ = r.Authenticate(s, fmt.Sprintf("user%d", i))
			_ = r.OnlineUsernames()
			_ = r.Broadcast(s, []byte("x"))
			if i%2 == 0 {
				r.Remove(s)
			}
		}()
	}
	wg.Wait()

	req.Equal(25, r.CountAuthenticated())
	req.Len(r.OnlineUsernames(), 25)
}

func TestRegistry_StoppedRegistryDoesNotBlock(t *testing.T) {
	r := NewRegistry(1, "SERVER", 0, nil)
	go r.Run()
	r.Stop()
	r.Wait()

	require.ErrorIs(t, r.Add(NewSession(nil, 1)), ErrRegistryStopped)
	require.False(t, r.Remove(NewSession(nil, 1)))
}

func TestRegistry_RemoveReleasesSession(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(1, "SERVER", 0, nil)
	a, b, c := NewSession(nil, 1), NewSession(nil, 1), NewSession(nil, 1)
	ro := &roster{sessions: []*Session{a, b, c}}

	rep := r.handleRemove(ro, Event{Type: EventRemove, Session: b})

	req.True(rep.Removed)
	req.Equal([]*Session{a, c}, ro.sessions)
	// the vacated slot of the backing array no longer holds a session
	req.Nil(ro.sessions[:3][2])
}
