package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/ftb/pkg/schema"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSchemas   = []byte("schemas")
	bucketSequences = []byte("sequences")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "ftb.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSchemas, bucketSequences} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Schema operations
func (s *BoltStore) SaveSchema(file schema.File) error {
	if err := file.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchemas)
		data, err := json.Marshal(file)
		if err != nil {
			return err
		}
		return b.Put([]byte(file.EventSpace), data)
	})
}

func (s *BoltStore) GetSchema(eventSpace string) (*schema.File, error) {
	var file schema.File
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchemas)
		data := b.Get([]byte(eventSpace))
		if data == nil {
			return fmt.Errorf("schema not found: %s", eventSpace)
		}
		return json.Unmarshal(data, &file)
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (s *BoltStore) ListSchemas() ([]schema.File, error) {
	var files []schema.File
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchemas)
		return b.ForEach(func(k, v []byte) error {
			var file schema.File
			if err := json.Unmarshal(v, &file); err != nil {
				return err
			}
			files = append(files, file)
			return nil
		})
	})
	return files, err
}

func (s *BoltStore) DeleteSchema(eventSpace string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchemas)
		return b.Delete([]byte(eventSpace))
	})
}

// Sequence operations

// SaveSequence records the highest sequence number leased for eventSpace.
// A lease lower than the stored one is ignored.
func (s *BoltStore) SaveSequence(eventSpace string, lease uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSequences)
		if cur := b.Get([]byte(eventSpace)); len(cur) == 8 && binary.BigEndian.Uint64(cur) >= lease {
			return nil
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], lease)
		return b.Put([]byte(eventSpace), buf[:])
	})
}

func (s *BoltStore) ListSequences() (map[string]uint64, error) {
	seqs := make(map[string]uint64)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSequences)
		return b.ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("corrupt sequence lease for %s", k)
			}
			seqs[string(k)] = binary.BigEndian.Uint64(v)
			return nil
		})
	})
	return seqs, err
}
