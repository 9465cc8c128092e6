package postgres

import "time"

// Config selects and tunes the Postgres connection.
type Config struct {
	DSN             string        `env:"DSN"`
	MaxConns        int32         `env:"MAX_CONNS" envDefault:"10"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	SkipMigrations  bool          `env:"SKIP_MIGRATIONS"`
	MigrationLockID string        `env:"MIGRATION_LOCK" envDefault:"es-migrations"`
}
