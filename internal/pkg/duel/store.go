package duel

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vreid/duel/internal/pkg/common"
	"go.etcd.io/bbolt"
)

func getDuel(tx *bbolt.Tx, duelID uint64) (*Duel, error) {
	bucket := tx.Bucket([]byte(common.DuelsBucket))
	if bucket == nil {
		return nil, ErrDuelsBucketNotFound
	}

	data := bucket.Get(common.IDKey(duelID))
	if data == nil {
		return nil, fmt.Errorf("%w: %d", ErrDuelNotFound, duelID)
	}

	var d Duel

	err := json.Unmarshal(data, &d)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal duel: %w", err)
	}

	return &d, nil
}

func putDuel(tx *bbolt.Tx, d *Duel) error {
	bucket := tx.Bucket([]byte(common.DuelsBucket))
	if bucket == nil {
		return ErrDuelsBucketNotFound
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal duel: %w", err)
	}

	err = bucket.Put(common.IDKey(d.ID), data)
	if err != nil {
		return fmt.Errorf("failed to put duel: %w", err)
	}

	return nil
}

// recordEvents appends events to the audit log, assigning sequence numbers.
func recordEvents(tx *bbolt.Tx, events []Event) error {
	bucket := tx.Bucket([]byte(common.EventsBucket))
	if bucket == nil {
		return ErrEventsBucketNotFound
	}

	for n := range events {
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate event sequence: %w", err)
		}

		events[n].Seq = seq

		data, err := json.Marshal(events[n])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		key := append(common.IDKey(events[n].DuelID), common.IDKey(seq)...)

		err = bucket.Put(key, data)
		if err != nil {
			return fmt.Errorf("failed to put event: %w", err)
		}
	}

	return nil
}

func listEvents(tx *bbolt.Tx, duelID uint64) ([]Event, error) {
	bucket := tx.Bucket([]byte(common.EventsBucket))
	if bucket == nil {
		return nil, ErrEventsBucketNotFound
	}

	prefix := common.IDKey(duelID)
	result := []Event{}

	c := bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var e Event

		err := json.Unmarshal(v, &e)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}

		result = append(result, e)
	}

	return result, nil
}
