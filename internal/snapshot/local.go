package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
)

const (
	// DefaultMaxRetained is how many snapshots the local cache keeps.
	DefaultMaxRetained = 10

	dataPrefix  = "snapshot/"
	indexPrefix = "snapshot-id/"
)

// ErrEvicted is returned by LocalStore.Save when the cache is full and the
// snapshot is older than every snapshot it retains. Nothing is written.
var ErrEvicted = errors.New("snapshot older than every retained snapshot")

// LocalStore keeps the most recent snapshots in an embedded BadgerDB. Keys
// embed the snapshot timestamp, so key order is timestamp order and the
// oldest snapshot is always the first key.
type LocalStore struct {
	db          *badger.DB
	maxRetained int
}

// NewLocalStore creates a LocalStore on db that retains at most maxRetained
// snapshots. A non-positive maxRetained selects DefaultMaxRetained.
func NewLocalStore(db *badger.DB, maxRetained int) *LocalStore {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	return &LocalStore{db: db, maxRetained: maxRetained}
}

func dataKey(snap domain.Snapshot) string {
	return fmt.Sprintf("%s%020d/%s", dataPrefix, snap.Timestamp.UnixNano(), snap.ID)
}

func idFromDataKey(key string) string {
	return key[strings.LastIndex(key, "/")+1:]
}

// Save implements Store. When the cache is full the oldest snapshots by
// timestamp are evicted so that only the most recent maxRetained remain. A
// snapshot that would itself be evicted is rejected with ErrEvicted.
func (s *LocalStore) Save(ctx context.Context, snap domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return apperr.ValidationFailure("LocalStore.Save", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(indexPrefix + snap.ID)); err == nil {
			return fmt.Errorf("snapshot %s already exists", snap.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		newKey := dataKey(snap)
		keys := append(listKeys(txn), newKey)
		sort.Strings(keys)

		if excess := len(keys) - s.maxRetained; excess > 0 {
			if newKey <= keys[excess-1] {
				return ErrEvicted
			}
			for _, k := range keys[:excess] {
				if err := txn.Delete([]byte(k)); err != nil {
					return err
				}
				if err := txn.Delete([]byte(indexPrefix + idFromDataKey(k))); err != nil {
					return err
				}
			}
		}

		if err := txn.Set([]byte(newKey), payload); err != nil {
			return err
		}
		return txn.Set([]byte(indexPrefix+snap.ID), []byte(newKey))
	})
	if errors.Is(err, ErrEvicted) {
		return fmt.Errorf("LocalStore.Save: snapshot %s: %w", snap.ID, err)
	}
	if err != nil {
		return apperr.StorageFailure("LocalStore.Save", err)
	}
	return nil
}

// List implements Store.
func (s *LocalStore) List(ctx context.Context) ([]domain.Snapshot, error) {
	var snaps []domain.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(dataPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var snap domain.Snapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			snaps = append(snaps, snap.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, apperr.StorageFailure("LocalStore.List", err)
	}

	sortNewestFirst(snaps)
	return snaps, nil
}

// Get implements Store.
func (s *LocalStore) Get(ctx context.Context, id string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get([]byte(indexPrefix + id))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Snapshot{}, fmt.Errorf("local snapshot %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return domain.Snapshot{}, apperr.StorageFailure("LocalStore.Get", err)
	}
	return snap, nil
}

// Count returns the number of cached snapshots.
func (s *LocalStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		n = len(listKeys(txn))
		return nil
	})
	return n, err
}

// listKeys returns all data keys in ascending (oldest first) order.
func listKeys(txn *badger.Txn) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(dataPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys
}

// Ensure LocalStore implements Store.
var _ Store = (*LocalStore)(nil)
