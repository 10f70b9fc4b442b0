// Package store is the PostgreSQL persistence layer. The database is the
// coordination substrate: unique indices provide ingest and aggregation
// idempotence, and the coordinator_state table carries paging cursors and
// the process-wide in-flight flags.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/stellar/go/support/errors"
	"go.uber.org/zap"
)

// insertBatchSize bounds multi-row INSERT statements.
const insertBatchSize = 5000

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString renders the lib/pq DSN.
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store wraps the database handle.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "pinging postgres")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullTime converts an optional time for query arguments.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// writePlaceholders appends "($base+1, ..., $base+n)" to a statement.
func writePlaceholders(sb *strings.Builder, base, n int) {
	sb.WriteString("(")
	for j := 1; j <= n; j++ {
		if j > 1 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "$%d", base+j)
	}
	sb.WriteString(")")
}

// chunk splits n items into batches of at most size.
func chunk(n, size int) [][2]int {
	var spans [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		spans = append(spans, [2]int{lo, hi})
	}
	return spans
}

// dayBounds returns the [00:00, 24:00) UTC bounds of the day containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	lo := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return lo, lo.Add(24 * time.Hour)
}

// UpsertMarketKey registers a market key on first sighting.
func (s *Store) UpsertMarketKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_keys (market_key) VALUES ($1)
		ON CONFLICT (market_key) DO NOTHING
	`, key)
	return errors.Wrap(err, "upserting market key")
}
