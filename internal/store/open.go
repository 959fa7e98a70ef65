package store

import (
	"fmt"
	"time"
)

const (
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

type Options struct {
	Backend     string
	RedisAddr   string
	BoltPath    string
	TTL         time.Duration
	MaxRequests int
	LimitWindow time.Duration
}

func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendRedis, "":
		return NewRedis(RedisOptions{
			Addr:        opts.RedisAddr,
			TTL:         opts.TTL,
			MaxRequests: opts.MaxRequests,
			LimitWindow: opts.LimitWindow,
		})
	case BackendBolt:
		return OpenBolt(opts.BoltPath)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
