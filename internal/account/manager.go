package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
)

// Manager implements Service on top of a Store. Credentials never reach the
// store in clear: they are hashed on Register and compared on Login.
type Manager struct {
	store  Store
	hasher Hasher
	logger *slog.Logger
}

func NewManager(store Store, hasher Hasher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, hasher: hasher, logger: logger}
}

func (m *Manager) Register(ctx context.Context, username, credential string) error {
	if err := ValidateCredentials(username, credential); err != nil {
		return err
	}

	hash, err := m.hasher.Hash(credential)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	if err := m.store.CreateAccount(ctx, username, hash); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return err
		}
		return fmt.Errorf("create account %s: %w", username, err)
	}
	return nil
}

func (m *Manager) Login(ctx context.Context, username, credential string) error {
	if err := ValidateCredentials(username, credential); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := m.store.CredentialHash(ctx, username)
	if errors.Is(err, ErrAccountNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("load account %s: %w", username, err)
	}

	ok, err := m.hasher.Compare(credential, hash)
	if err != nil {
		m.logger.Error("stored credential hash is unreadable", "username", username, "error", err)
		return ErrInvalidCredentials
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

func (m *Manager) SaveMessage(ctx context.Context, msg Message) error {
	msg.Recipients = lo.Uniq(lo.Without(msg.Recipients, msg.Author))
	if len(msg.Recipients) == 0 {
		return nil
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("save message from %s: %w", msg.Author, err)
	}
	return nil
}

func (m *Manager) LoadHistory(ctx context.Context, username string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	records, err := m.store.History(ctx, username, limit)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", username, err)
	}
	return records, nil
}

// EnsureAccount creates the account unless it already exists. It runs once at
// startup for the server's own identity.
func (m *Manager) EnsureAccount(ctx context.Context, username, credential string) error {
	err := m.Register(ctx, username, credential)
	if errors.Is(err, ErrUsernameTaken) {
		m.logger.Debug("account already present", "username", username)
		return nil
	}
	if err == nil {
		m.logger.Info("account created", "username", username)
	}
	return err
}
