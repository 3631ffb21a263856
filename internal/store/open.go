package store

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a conversation store backend.
type Options struct {
	Backend  string
	DBPath   string
	RedisURL string
	IdleTTL  time.Duration
}

// Open constructs the backend named by opts.Backend.
func Open(opts Options) (ConversationStore, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		return NewSQLite(opts.DBPath)
	case BackendRedis:
		ropts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedis(redis.NewClient(ropts), WithIdleTTL(opts.IdleTTL)), nil
	default:
		return nil, fmt.Errorf("unknown conversation store %q", opts.Backend)
	}
}
