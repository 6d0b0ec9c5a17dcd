package clientstore

import (
	"context"
)

// Well-known record keys. Records are independent: a corrupt or missing
// record never invalidates the others.
const (
	RecordTokens   = "session.tokens"
	RecordActivity = "session.activity"
	RecordDraft    = "workflow.draft"
	RecordDeferred = "workflow.deferred"
)

// Store is the durable client-side record store surviving restarts.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver    string
	Namespace string
	SQLite    *SQLiteConfig
	Redis     *RedisConfig
}

// SQLiteConfig provides the database dependency parameters.
type SQLiteConfig struct {
	DSN string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
