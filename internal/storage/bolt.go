package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketUpdates   = []byte("updates") // nested: one sub-bucket per workspace id
)

// defaultCompactionThreshold is the number of pending updates a
// workspace accumulates before BoltStore folds them into a fresh
// snapshot and truncates its update log (spec §4.6's compaction note).
const defaultCompactionThreshold = 64

// BoltStore is a bbolt-backed Store: one top-level bucket holding the
// latest snapshot per workspace, and one nested bucket per workspace
// holding its pending updates keyed by a monotonically increasing
// sequence number.
type BoltStore struct {
	db                  *bolt.DB
	compactionThreshold int
}

// NewBoltStore opens (creating if absent) a bbolt database file under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "workspacesync.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketUpdates)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}

	return &BoltStore{db: db, compactionThreshold: defaultCompactionThreshold}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load returns the latest snapshot for workspaceID and every update
// appended since it, in sequence order.
func (s *BoltStore) Load(workspaceID string) ([]byte, [][]byte, error) {
	var snapshot []byte
	var updates [][]byte

	err := s.db.View(func(tx *bolt.Tx) error {
		snapBucket := tx.Bucket(bucketSnapshots)
		data := snapBucket.Get([]byte(workspaceID))
		if data == nil {
			return ErrNotFound
		}
		snapshot = append([]byte(nil), data...)

		updBucket := tx.Bucket(bucketUpdates)
		ws := updBucket.Bucket([]byte(workspaceID))
		if ws == nil {
			return nil
		}
		return ws.ForEach(func(_, v []byte) error {
			updates = append(updates, append([]byte(nil), v...))
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return snapshot, updates, nil
}

// AppendUpdate appends update to workspaceID's pending log. It never
// compacts: compaction is driven by the caller (connector.Manager), which
// asks ShouldCompact whether it's now due, re-derives the snapshot from
// its in-memory Replica and calls SaveSnapshot.
func (s *BoltStore) AppendUpdate(workspaceID string, update []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		updBucket := tx.Bucket(bucketUpdates)
		ws, err := updBucket.CreateBucketIfNotExists([]byte(workspaceID))
		if err != nil {
			return err
		}
		seq, err := ws.NextSequence()
		if err != nil {
			return err
		}
		return ws.Put(seqKey(seq), update)
	})
}

// PendingCount returns the number of updates accumulated since the last
// snapshot, so callers can decide when to compact (spec §4.6).
func (s *BoltStore) PendingCount(workspaceID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		updBucket := tx.Bucket(bucketUpdates)
		ws := updBucket.Bucket([]byte(workspaceID))
		if ws == nil {
			return nil
		}
		count = ws.Stats().KeyN
		return nil
	})
	return count, err
}

// ShouldCompact reports whether workspaceID has crossed this store's
// compaction threshold.
func (s *BoltStore) ShouldCompact(workspaceID string) bool {
	n, err := s.PendingCount(workspaceID)
	if err != nil {
		return false
	}
	return n >= s.compactionThreshold
}

// SaveSnapshot replaces workspaceID's snapshot and clears its pending
// update log in a single transaction, so a crash between the two steps
// never leaves an inconsistent state.
func (s *BoltStore) SaveSnapshot(workspaceID string, snapshot []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		snapBucket := tx.Bucket(bucketSnapshots)
		if err := snapBucket.Put([]byte(workspaceID), snapshot); err != nil {
			return err
		}
		updBucket := tx.Bucket(bucketUpdates)
		if ws := updBucket.Bucket([]byte(workspaceID)); ws != nil {
			if err := updBucket.DeleteBucket([]byte(workspaceID)); err != nil {
				return err
			}
		}
		_, err := updBucket.CreateBucket([]byte(workspaceID))
		return err
	})
}

// Exists reports whether workspaceID has a persisted snapshot.
func (s *BoltStore) Exists(workspaceID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		snapBucket := tx.Bucket(bucketSnapshots)
		found = snapBucket.Get([]byte(workspaceID)) != nil
		return nil
	})
	return found, err
}

// Delete removes workspaceID's snapshot and its pending update log in a
// single transaction.
func (s *BoltStore) Delete(workspaceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		snapBucket := tx.Bucket(bucketSnapshots)
		if err := snapBucket.Delete([]byte(workspaceID)); err != nil {
			return err
		}
		updBucket := tx.Bucket(bucketUpdates)
		if updBucket.Bucket([]byte(workspaceID)) == nil {
			return nil
		}
		return updBucket.DeleteBucket([]byte(workspaceID))
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
