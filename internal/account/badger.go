package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// BadgerStore keeps accounts and messages in an embedded BadgerDB.
//
// Key layout:
//
//	account:<username>              -> storedAccount
//	message:<seq>                   -> storedMessage
//	history:<hex username>:<seq>    -> message key, one per participant
//
// seq comes from a badger Sequence and is zero padded, so a reverse prefix
// scan over history:<user>: walks that user's messages newest first.
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
}

type storedAccount struct {
	Username       string    `json:"username"`
	CredentialHash string    `json:"credential_hash"`
	CreatedAt      time.Time `json:"created_at"`
}

type storedMessage struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Author     string    `json:"author"`
	Recipients []string  `json:"recipients"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

// OpenBadger opens (or creates) a store at path. An empty path keeps
// everything in memory.
func OpenBadger(path string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{logger})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	store, err := NewBadgerStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewBadgerStore(db *badger.DB, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seq, err := db.GetSequence([]byte("seq:message"), 128)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, logger: logger}, nil
}

func accountKey(username string) []byte {
	return []byte("account:" + username)
}

func messageKey(seq uint64) []byte {
	return fmt.Appendf(nil, "message:%020d", seq)
}

func historyPrefix(username string) []byte {
	return fmt.Appendf(nil, "history:%x:", username)
}

func historyKey(username string, seq uint64) []byte {
	return fmt.Appendf(historyPrefix(username), "%020d", seq)
}

func (s *BadgerStore) CreateAccount(ctx context.Context, username, credentialHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(storedAccount{
		Username:       username,
		CredentialHash: credentialHash,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := accountKey(username)
		_, err := txn.Get(key)
		if err == nil {
			return ErrUsernameTaken
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) CredentialHash(ctx context.Context, username string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var acc storedAccount
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &acc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	return acc.CredentialHash, nil
}

func (s *BadgerStore) AppendMessage(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seq, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next message sequence: %w", err)
	}
	data, err := json.Marshal(storedMessage{
		ID:         uuid.NewString(),
		Seq:        seq,
		Author:     msg.Author,
		Recipients: msg.Recipients,
		Text:       msg.Text,
		SentAt:     msg.SentAt,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := messageKey(seq)
	participants := lo.Uniq(append([]string{msg.Author}, msg.Recipients...))
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		for _, p := range participants {
			if err := txn.Set(historyKey(p, seq), key); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns the latest limit messages of username in chronological order.
func (s *BadgerStore) History(ctx context.Context, username string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := historyPrefix(username)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(prefix, 0xff)); it.ValidForPrefix(prefix) && len(records) < limit; it.Next() {
			msgKey, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(msgKey)
			if errors.Is(err, badger.ErrKeyNotFound) {
				s.logger.Warn("dangling history entry", "key", string(it.Item().Key()))
				continue
			}
			if err != nil {
				return err
			}
			var m storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			records = append(records, Record{Author: m.Author, Text: m.Text, SentAt: m.SentAt})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Reverse(records), nil
}

func (s *BadgerStore) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

// badgerLogger routes badger's printf-style logs into slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
