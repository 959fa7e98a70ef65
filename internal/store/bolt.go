package store

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

var boltSlots = []Slot{SlotUser, SlotCart, SlotToken}

// Bolt keeps one bucket per slot keyed by session id. Slots never expire.
type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, slot := range boltSlots {
			if _, err := tx.CreateBucketIfNotExists([]byte(slot)); err != nil {
				return fmt.Errorf("create bucket %s: %w", slot, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(_ context.Context, sid string, slot Slot) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(slot))
		if bucket == nil {
			return fmt.Errorf("unknown slot %q", slot)
		}
		raw := bucket.Get([]byte(sid))
		if raw == nil {
			return ErrNotFound
		}
		// raw is only valid for the life of the transaction.
		data = append([]byte(nil), raw...)
		return nil
	})
	return data, err
}

func (b *Bolt) Set(_ context.Context, sid string, slot Slot, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(slot))
		if bucket == nil {
			return fmt.Errorf("unknown slot %q", slot)
		}
		return bucket.Put([]byte(sid), data)
	})
}

func (b *Bolt) Delete(_ context.Context, sid string, slot Slot) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(slot))
		if bucket == nil {
			return fmt.Errorf("unknown slot %q", slot)
		}
		return bucket.Delete([]byte(sid))
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
