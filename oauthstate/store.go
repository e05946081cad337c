// ABOUTME: Badger-backed nonce store for OAuth state tokens
// ABOUTME: Each nonce is written with a TTL and consumed at most once
package oauthstate

import (
	"errors"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"
)

var errNonceMissing = errors.New("nonce not found")

type nonceStore struct {
	db *badger.DB
}

// openNonceStore opens badger in dir, or in memory when dir is empty.
func openNonceStore(dir string) (*nonceStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(dir)
	}

	// Badger logs to stderr by default
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &nonceStore{db: db}, nil
}

func (s *nonceStore) put(nonce, provider string, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(nonce), []byte(provider)).WithTTL(ttl))
	})
}

// take returns the provider stored under nonce and deletes it in the same
// transaction. A second take of the same nonce gets errNonceMissing.
func (s *nonceStore) take(nonce string) (string, error) {
	var provider string
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(nonce))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errNonceMissing
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		provider = string(value)
		return txn.Delete([]byte(nonce))
	})
	return provider, err
}

func (s *nonceStore) close() error {
	return s.db.Close()
}
