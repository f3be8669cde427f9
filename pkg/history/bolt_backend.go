package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// recordsBucket holds one JSON-encoded Record per key; keys are
// big-endian sequence numbers so bbolt's natural byte-sorted iteration
// preserves insertion order, matching guanke-papaya's internal/store.Store
// one-bucket-per-entity-type, JSON-value-per-key shape.
var recordsBucket = []byte("records")

// boltBackend is the alternate embedded-storage backend for the History
// Store: same Store API, durable append/prune via an embedded bbolt
// database instead of a flat JSON file.
type boltBackend struct {
	db *bolt.DB
}

func newBoltBackend(path string) (*boltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("history: open bolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create bucket: %w", err)
	}
	return &boltBackend{db: db}, nil
}

func (b *boltBackend) load() ([]Record, error) {
	var records []Record
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		return bucket.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// persist replaces the bucket's contents wholesale: the records slice
// already reflects identity-key replace-in-place and retention trim
// decided above the backend seam, so each save re-keys every surviving
// record by its current position to keep load() order stable.
func (b *boltBackend) persist(records []Record) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(recordsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bucket, err := tx.CreateBucket(recordsBucket)
		if err != nil {
			return err
		}
		for i, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := bucket.Put(seqKey(uint64(i)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltBackend) close() error {
	return b.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
