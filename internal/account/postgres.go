package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

const uniqueViolation = "23505"

// PostgresStore keeps accounts and messages in PostgreSQL. The schema is
// created by migrations.Up before the store is used.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(pool), nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, username, credentialHash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (username, credential_hash) VALUES ($1, $2)`,
		username, credentialHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrUsernameTaken
	}
	return err
}

func (s *PostgresStore) CredentialHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT credential_hash FROM accounts WHERE username = $1`,
		username).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrAccountNotFound
	}
	return hash, err
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO messages (author, body, sent_at) VALUES ($1, $2, $3) RETURNING id`,
			msg.Author, msg.Text, msg.SentAt).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		recipients := lo.Uniq(msg.Recipients)
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"message_recipients"},
			[]string{"message_id", "recipient"},
			pgx.CopyFromSlice(len(recipients), func(i int) ([]any, error) {
				return []any{id, recipients[i]}, nil
			}))
		if err != nil {
			return fmt.Errorf("insert recipients: %w", err)
		}
		return nil
	})
}

// History returns the latest limit messages of username in chronological order.
func (s *PostgresStore) History(ctx context.Context, username string, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.author, m.body, m.sent_at
		FROM messages m
		WHERE m.author = $1
		   OR EXISTS (
		       SELECT 1 FROM message_recipients r
		       WHERE r.message_id = m.id AND r.recipient = $1)
		ORDER BY m.id DESC
		LIMIT $2`, username, limit)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Record])
	if err != nil {
		return nil, err
	}
	return lo.Reverse(records), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
