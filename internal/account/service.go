package account

//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../mocks/mock_account.go -package=mocks

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidAccount     = errors.New("invalid account data")
	ErrAccountNotFound    = errors.New("account not found")
)

// Service is what the chat server needs from account storage.
type Service interface {
	// Register creates an account. It fails with ErrUsernameTaken when the name exists.
	Register(ctx context.Context, username, credential string) error
	// Login fails with ErrInvalidCredentials on an unknown user or a wrong credential.
	Login(ctx context.Context, username, credential string) error
	// SaveMessage stores a message. Messages without recipients are not stored.
	SaveMessage(ctx context.Context, msg Message) error
	// LoadHistory returns up to limit messages written by or addressed to username,
	// oldest first.
	LoadHistory(ctx context.Context, username string, limit int) ([]Record, error)
}

type Message struct {
	Author     string
	Recipients []string
	Text       string
	SentAt     time.Time
}

// Record is one message as returned by LoadHistory.
type Record struct {
	Author string
	Text   string
	SentAt time.Time
}

// Store is the persistence behind Manager.
type Store interface {
	CreateAccount(ctx context.Context, username, credentialHash string) error
	CredentialHash(ctx context.Context, username string) (string, error)
	AppendMessage(ctx context.Context, msg Message) error
	History(ctx context.Context, username string, limit int) ([]Record, error)
	Close() error
}
