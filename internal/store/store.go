// Package store persists the per-session client records of the gateway.
//
// A session owns three string-keyed slots. Absence of a slot is a valid
// state meaning "no value"; callers see it as ErrNotFound.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Slot string

const (
	SlotUser  Slot = "user"
	SlotCart  Slot = "cart"
	SlotToken Slot = "token"
)

var (
	ErrNotFound = errors.New("slot not found")
	ErrCorrupt  = errors.New("slot data is corrupt")
)

type Store interface {
	Get(ctx context.Context, sid string, slot Slot) ([]byte, error)
	Set(ctx context.Context, sid string, slot Slot, data []byte) error
	Delete(ctx context.Context, sid string, slot Slot) error
	Close() error
}

// RateLimiter is implemented by backends that can count requests across
// gateway instances.
type RateLimiter interface {
	IsRateLimited(ctx context.Context, key string) bool
}

// LoadJSON decodes the slot into target. It reports false with a nil error
// when the slot is absent.
func LoadJSON(ctx context.Context, s Store, sid string, slot Slot, target any) (bool, error) {
	data, err := s.Get(ctx, sid, slot)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", slot, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("load %s: %w: %v", slot, ErrCorrupt, err)
	}
	return true, nil
}

func SaveJSON(ctx context.Context, s Store, sid string, slot Slot, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", slot, err)
	}
	if err := s.Set(ctx, sid, slot, data); err != nil {
		return fmt.Errorf("save %s: %w", slot, err)
	}
	return nil
}
