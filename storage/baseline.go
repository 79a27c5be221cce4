// Package storage keeps the history of boot baselines in bbolt so drift
// can be audited across restarts.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"go.etcd.io/bbolt"
)

// Bucket names in bbolt
var (
	bucketBaselines = []byte("baselines")
	bucketMeta      = []byte("meta")
	keyCurrentRev   = []byte("current_revision")
)

// BaselineStore is a revisioned log of baselines
type BaselineStore struct {
	mu sync.RWMutex

	db *bbolt.DB

	// Revision of the newest record
	currentRev int64
}

// Open opens or creates the store at path
func Open(path string) (*BaselineStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketBaselines, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	s := &BaselineStore{db: db}
	if err := s.loadRevision(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store
func (s *BaselineStore) Close() error {
	return s.db.Close()
}

// Save appends rec under the next revision
func (s *BaselineStore) Save(ctx context.Context, rec Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.currentRev + 1
	rec.Revision = rev

	err := s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketBaselines).Put(revisionKey(rev), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyCurrentRev, []byte(strconv.FormatInt(rev, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("save baseline: %w", err)
	}

	s.currentRev = rev
	return rev, nil
}

// Latest returns the newest record, or nil when the store is empty
func (s *BaselineStore) Latest(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(bucketBaselines).Cursor().Last()
		if v == nil {
			return nil
		}
		rec = &Record{}
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("read latest baseline: %w", err)
	}
	return rec, nil
}

// Get returns the record at revision
func (s *BaselineStore) Get(ctx context.Context, revision int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBaselines).Get(revisionKey(revision))
		if v == nil {
			return fmt.Errorf("baseline revision %d not found", revision)
		}
		rec = &Record{}
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (s *BaselineStore) List(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketBaselines).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode revision %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentRevision returns the newest revision number
func (s *BaselineStore) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Compact removes all but the newest keepRevisions records
func (s *BaselineStore) Compact(ctx context.Context, keepRevisions int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.currentRev - keepRevisions
	if cutoff <= 0 {
		return nil // Nothing to compact
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBaselines)
		c := bucket.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rev, err := parseRevisionKey(k)
			if err != nil {
				return err
			}
			if rev > cutoff {
				break
			}
			toDelete = append(toDelete, k)
		}

		for _, key := range toDelete {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BaselineStore) loadRevision() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyCurrentRev)
		if data == nil {
			return nil
		}
		rev, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt current revision %q: %w", data, err)
		}
		s.currentRev = rev
		return nil
	})
}

// Zero padded so keys sort by revision
func revisionKey(rev int64) []byte {
	return []byte(fmt.Sprintf("%016d", rev))
}

func parseRevisionKey(key []byte) (int64, error) {
	return strconv.ParseInt(string(key), 10, 64)
}
