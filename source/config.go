package source

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Supported dialects.
const (
	DialectClickHouse = "clickhouse"
	DialectMySQL      = "mysql"
	DialectSQLite     = "sqlite"
)

// Config describes where records are read from.
type Config struct {
	// Dialect is one of "clickhouse", "mysql" (ClickHouse MySQL interface or
	// a MySQL replica) or "sqlite".
	Dialect string

	// DSN is the driver connection string.
	DSN string

	// Table holds the records. Default: "records"
	Table string

	// IDColumn is the unique record id. Default: "id"
	IDColumn string

	// TextColumn is the free text attributes are extracted from. Default: "title"
	TextColumn string

	// CursorColumn is the strictly increasing ordering key. Default: "RowID"
	CursorColumn string

	// MetadataColumns are passed through untouched into SourceRecord.Metadata.
	MetadataColumns []string

	// Filter is an optional SQL predicate selecting unprocessed records,
	// e.g. "status = 'new'". It is ANDed with the cursor condition.
	Filter string

	// MaxOpenConns bounds the connection pool independent of worker concurrency.
	// Default: 4
	MaxOpenConns int

	// QueryTimeout bounds a single fetch. Zero means no timeout.
	QueryTimeout time.Duration

	// SlowQueryThreshold marks queries logged as slow. Zero disables it.
	SlowQueryThreshold time.Duration
}

// DefaultConfig returns a Config matching the records table layout.
func DefaultConfig() *Config {
	return &Config{
		Dialect:            DialectClickHouse,
		Table:              "records",
		IDColumn:           "id",
		TextColumn:         "title",
		CursorColumn:       "RowID",
		MaxOpenConns:       4,
		QueryTimeout:       60 * time.Second,
		SlowQueryThreshold: 5 * time.Second,
	}
}

// Validate checks that the configuration is valid and complete.
func (c *Config) Validate() error {
	if !slices.Contains([]string{DialectClickHouse, DialectMySQL, DialectSQLite}, c.Dialect) {
		return fmt.Errorf("source config: %w: %q", ErrUnsupportedDialect, c.Dialect)
	}
	if c.DSN == "" {
		return errors.New("source config: DSN is required")
	}
	if c.Table == "" || c.IDColumn == "" || c.TextColumn == "" || c.CursorColumn == "" {
		return errors.New("source config: Table, IDColumn, TextColumn and CursorColumn are required")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("source config: MaxOpenConns must be at least 1")
	}
	if c.QueryTimeout < 0 {
		return errors.New("source config: QueryTimeout must not be negative")
	}
	return nil
}

// columns returns every selected column, required ones first.
func (c *Config) columns() []string {
	cols := []string{c.IDColumn, c.TextColumn, c.CursorColumn}
	for _, m := range c.MetadataColumns {
		if !slices.Contains(cols, m) {
			cols = append(cols, m)
		}
	}
	return cols
}
