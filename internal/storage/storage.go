// Package storage provides persistent screening history for the screening
// service. It uses BoltDB as the underlying storage engine, keyed by time so
// that recent and ranged queries are plain cursor scans.
//
// History is auxiliary: callers treat a storage failure as non-fatal for the
// prediction that produced the record.
package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cbc-screen/internal/common"

	"go.etcd.io/bbolt"
)

const (
	screeningsBucket = common.ScreeningBucket // time-ordered screening records
	idIndexBucket    = "screening_ids"        // screening id -> record key
)

// Store provides persistent storage for screenings using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
// Returns an error if the database cannot be opened or buckets cannot be created.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data path: %w", err)
	}
	dbPath := filepath.Join(dataPath, common.HistoryDBName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(screeningsBucket)); err != nil {
			return fmt.Errorf("create screenings bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(idIndexBucket)); err != nil {
			return fmt.Errorf("create id index bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// recordKey orders records chronologically; the zero padding keeps the
// lexicographic order of keys equal to the numeric order of timestamps.
func recordKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d|%s", ts.UnixNano(), id))
}

func timeKey(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%020d|", ts.UnixNano()))
}

func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
