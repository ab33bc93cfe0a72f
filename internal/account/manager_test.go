package account_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andy6609/chat-server/internal/account"
	"github.com/andy6609/chat-server/internal/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fastHasher = account.Hasher{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newMockManager(t *testing.T) (*account.Manager, *mocks.MockStore) {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	return account.NewManager(store, fastHasher, nil), store
}

func TestManager_RegisterThenLogin(t *testing.T) {
	req := require.New(t)
	m, store := newMockManager(t)
	ctx := context.Background()

	var stored string
	store.EXPECT().CreateAccount(gomock.Any(), "alice", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, hash string) error {
			stored = hash
			return nil
		})
	store.EXPECT().CredentialHash(gomock.Any(), "alice").DoAndReturn(
		func(context.Context, string) (string, error) { return stored, nil }).Times(2)

	req.NoError(m.Register(ctx, "alice", "hash1"))
	req.NotEqual("hash1", stored)

	req.NoError(m.Login(ctx, "alice", "hash1"))
	req.ErrorIs(m.Login(ctx, "alice", "hash2"), account.ErrInvalidCredentials)
}

func TestManager_RegisterTakenUsername(t *testing.T) {
	m, store := newMockManager(t)
	store.EXPECT().CreateAccount(gomock.Any(), "alice", gomock.Any()).Return(account.ErrUsernameTaken)

	require.ErrorIs(t, m.Register(context.Background(), "alice", "hash1"), account.ErrUsernameTaken)
}

func TestManager_RegisterRejectsInvalidShapeWithoutStoreAccess(t *testing.T) {
	m, _ := newMockManager(t)

	require.ErrorIs(t, m.Register(context.Background(), "al ice", "hash1"), account.ErrInvalidAccount)
	require.ErrorIs(t, m.Register(context.Background(), "alice", ""), account.ErrInvalidAccount)
}

func TestManager_LoginFailures(t *testing.T) {
	req := require.New(t)
	m, store := newMockManager(t)
	ctx := context.Background()
	storeDown := errors.New("store down")

	store.EXPECT().CredentialHash(gomock.Any(), "ghost").Return("", account.ErrAccountNotFound)
	store.EXPECT().CredentialHash(gomock.Any(), "broken").Return("not-a-hash", nil)
	store.EXPECT().CredentialHash(gomock.Any(), "alice").Return("", storeDown)

	req.ErrorIs(m.Login(ctx, "ghost", "hash1"), account.ErrInvalidCredentials)
	req.ErrorIs(m.Login(ctx, "broken", "hash1"), account.ErrInvalidCredentials)
	req.ErrorIs(m.Login(ctx, "", "hash1"), account.ErrInvalidCredentials)

	err := m.Login(ctx, "alice", "hash1")
	req.ErrorIs(err, storeDown)
	req.NotErrorIs(err, account.ErrInvalidCredentials)
}

func TestManager_SaveMessageNormalizesRecipients(t *testing.T) {
	m, store := newMockManager(t)
	ctx := context.Background()
	sentAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)

	store.EXPECT().AppendMessage(gomock.Any(), account.Message{
		Author:     "alice",
		Recipients: []string{"bob", "carol"},
		Text:       "hello",
		SentAt:     sentAt,
	}).Return(nil)

	require.NoError(t, m.SaveMessage(ctx, account.Message{
		Author:     "alice",
		Recipients: []string{"bob", "alice", "carol", "bob"},
		Text:       "hello",
		SentAt:     sentAt,
	}))

	// nobody but the author: nothing to store
	require.NoError(t, m.SaveMessage(ctx, account.Message{Author: "alice", Recipients: []string{"alice"}, Text: "me"}))
	require.NoError(t, m.SaveMessage(ctx, account.Message{Author: "alice", Text: "void"}))
}

func TestManager_LoadHistory(t *testing.T) {
	req := require.New(t)
	m, store := newMockManager(t)
	ctx := context.Background()

	want := []account.Record{{Author: "bob", Text: "hi", SentAt: time.Now()}}
	store.EXPECT().History(gomock.Any(), "alice", 5).Return(want, nil)

	got, err := m.LoadHistory(ctx, "alice", 5)
	req.NoError(err)
	req.Equal(want, got)

	got, err = m.LoadHistory(ctx, "alice", 0)
	req.NoError(err)
	req.Nil(got)
}

func TestManager_EnsureAccountIsIdempotent(t *testing.T) {
	store, err := account.OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := account.NewManager(store, fastHasher, nil)
	ctx := context.Background()

	require.NoError(t, m.EnsureAccount(ctx, "SERVER", "pw"))
	require.NoError(t, m.EnsureAccount(ctx, "SERVER", "other"))
	require.NoError(t, m.Login(ctx, "SERVER", "pw"))
	require.ErrorIs(t, m.Login(ctx, "SERVER", "other"), account.ErrInvalidCredentials)
}
