package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cbc-screen/internal/ml"
	"cbc-screen/internal/panel"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when no screening has the requested id.
var ErrNotFound = errors.New("screening not found")

// Screening is one persisted prediction.
type Screening struct {
	ID            string                `json:"id"`
	Timestamp     time.Time             `json:"timestamp"`
	Profile       string                `json:"profile,omitempty"`
	Values        []float64             `json:"values"`
	Label         string                `json:"label"`
	Class         int                   `json:"class"`
	Probabilities []ml.LabelProbability `json:"probabilities"`
	ModelVersion  string                `json:"model_version"`
}

// Panel returns the stored measurements as a vector.
func (s Screening) Panel() panel.Vector {
	return panel.Vector(s.Values)
}

// Confidence is the probability of the stored label.
func (s Screening) Confidence() float64 {
	for _, p := range s.Probabilities {
		if p.Class == s.Class {
			return p.Probability
		}
	}
	return 0
}

// SaveScreening stores a screening record. An empty ID or zero timestamp is
// filled in; the stored record is returned.
func (s *Store) SaveScreening(rec Screening) (Screening, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(screeningsBucket))
		idx := tx.Bucket([]byte(idIndexBucket))

		if idx.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("screening %s already exists", rec.ID)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal screening: %w", err)
		}

		key := recordKey(rec.Timestamp, rec.ID)
		if err := b.Put(key, data); err != nil {
			return err
		}
		return idx.Put([]byte(rec.ID), key)
	})
	if err != nil {
		return Screening{}, err
	}
	return rec, nil
}

// RecordScreening persists a formatter result and returns the new id.
func (s *Store) RecordScreening(ctx context.Context, source string, v panel.Vector, res ml.Result, modelVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec, err := s.SaveScreening(Screening{
		Profile:       source,
		Values:        append([]float64(nil), v...),
		Label:         res.Label,
		Class:         res.Class,
		Probabilities: append([]ml.LabelProbability(nil), res.Probabilities...),
		ModelVersion:  modelVersion,
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// GetScreening looks a screening up by id.
func (s *Store) GetScreening(id string) (Screening, error) {
	var rec Screening
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(idIndexBucket)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		data := tx.Bucket([]byte(screeningsBucket)).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// RecentScreenings returns up to n screenings, newest first.
func (s *Store) RecentScreenings(n int) ([]Screening, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []Screening

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(screeningsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var rec Screening
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip malformed records
			}
			out = append(out, rec)
		}
		return nil
	})

	return out, err
}

// ScreeningsInRange returns screenings with start <= timestamp <= end in
// chronological order.
func (s *Store) ScreeningsInRange(start, end time.Time) ([]Screening, error) {
	var out []Screening

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(screeningsBucket)).Cursor()
		// every key for end's nanosecond sorts below the next nanosecond's prefix
		endKey := timeKey(end.Add(time.Nanosecond))

		for k, v := c.Seek(timeKey(start)); k != nil && compareKeys(k, endKey) < 0; k, v = c.Next() {
			var rec Screening
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip malformed records
			}
			out = append(out, rec)
		}
		return nil
	})

	return out, err
}

// Count returns the number of stored screenings.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(screeningsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}
