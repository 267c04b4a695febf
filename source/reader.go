// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cast"
	"gorm.io/driver/clickhouse"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// idChunkSize bounds the number of ids in a single IN clause.
const idChunkSize = 500

// Reader pulls ordered batches of records from the analytical store.
type Reader interface {
	// FetchBatch returns up to size records whose cursor key is greater than
	// cursor, in ascending cursor order. next is the cursor of the last
	// record returned (or cursor itself when none were). hasMore is false
	// only when the source returned fewer than size records.
	FetchBatch(ctx context.Context, cursor core.Cursor, size int) (records []core.SourceRecord, next core.Cursor, hasMore bool, err error)

	// FetchByIDs returns the records with the given ids in cursor order.
	// Unknown ids are skipped.
	FetchByIDs(ctx context.Context, ids []string) ([]core.SourceRecord, error)

	// Count returns the number of records after cursor matching the filter.
	Count(ctx context.Context, cursor core.Cursor) (int64, error)

	// Close releases the connection pool.
	Close() error
}

// SQLReader implements Reader over any gorm dialect.
type SQLReader struct {
	db     *gorm.DB
	config Config
	logger *slog.Logger
}

var _ Reader = (*SQLReader)(nil)

// Open connects to the configured source and returns a reader.
func Open(config *Config) (*SQLReader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch config.Dialect {
	case DialectClickHouse:
		dialector = clickhouse.Open(config.DSN)
	case DialectMySQL:
		dialector = mysql.Open(config.DSN)
	case DialectSQLite:
		dialector = sqlite.Open(config.DSN)
	}

	logger := slog.Default().With("component", "source", "dialect", config.Dialect)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(config.SlowQueryThreshold, logger),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	return NewReader(db, config)
}

// NewReader wraps an existing gorm connection. config is copied.
func NewReader(db *gorm.DB, config *Config) (*SQLReader, error) {
	if db == nil {
		return nil, errors.New("source: db is required")
	}
	cfg := *config
	cfg.MetadataColumns = slices.Clone(config.MetadataColumns)
	if cfg.MaxOpenConns < 1 {
		cfg.MaxOpenConns = 1
	}
	config = &cfg

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxOpenConns)

	return &SQLReader{
		db:     db,
		config: *config,
		logger: slog.Default().With("component", "source", "table", config.Table),
	}, nil
}

// FetchBatch implements Reader.
func (r *SQLReader) FetchBatch(ctx context.Context, cursor core.Cursor, size int) ([]core.SourceRecord, core.Cursor, bool, error) {
	if size <= 0 {
		return nil, cursor, false, ErrInvalidBatchSize
	}

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	var rows []map[string]any
	err := r.scope(ctx).
		Where(clause.Gt{Column: clause.Column{Name: r.config.CursorColumn}, Value: uint64(cursor)}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: r.config.CursorColumn}}).
		Limit(size).
		Find(&rows).Error
	if err != nil {
		return nil, cursor, false, r.classify(ctx, err)
	}

	records, err := r.toRecords(rows)
	if err != nil {
		return nil, cursor, false, err
	}

	next := cursor
	for _, rec := range records {
		if rec.Cursor() <= next {
			return nil, cursor, false, fmt.Errorf("%w: cursor column %s is not strictly increasing at %d",
				ErrSourceSchema, r.config.CursorColumn, rec.RowID)
		}
		next = rec.Cursor()
	}

	r.logger.Debug("fetched batch", "from", cursor, "to", next, "count", len(records))
	return records, next, len(records) == size, nil
}

// FetchByIDs implements Reader.
func (r *SQLReader) FetchByIDs(ctx context.Context, ids []string) ([]core.SourceRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	var records []core.SourceRecord
	for chunk := range slices.Chunk(ids, idChunkSize) {
		values := make([]any, len(chunk))
		for i, id := range chunk {
			values[i] = id
		}

		var rows []map[string]any
		err := r.db.WithContext(ctx).
			Table(r.config.Table).
			Select(r.config.columns()).
			Where(clause.IN{Column: clause.Column{Name: r.config.IDColumn}, Values: values}).
			Find(&rows).Error
		if err != nil {
			return nil, r.classify(ctx, err)
		}

		chunkRecords, err := r.toRecords(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, chunkRecords...)
	}

	slices.SortFunc(records, func(a, b core.SourceRecord) int {
		switch {
		case a.RowID < b.RowID:
			return -1
		case a.RowID > b.RowID:
			return 1
		default:
			return 0
		}
	})
	return records, nil
}

// Count implements Reader.
func (r *SQLReader) Count(ctx context.Context, cursor core.Cursor) (int64, error) {
	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	var count int64
	err := r.db.WithContext(ctx).
		Table(r.config.Table).
		Scopes(r.filter).
		Where(clause.Gt{Column: clause.Column{Name: r.config.CursorColumn}, Value: uint64(cursor)}).
		Count(&count).Error
	if err != nil {
		return 0, r.classify(ctx, err)
	}
	return count, nil
}

// Close releases the connection pool.
func (r *SQLReader) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *SQLReader) scope(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table(r.config.Table).
		Select(r.config.columns()).
		Scopes(r.filter)
}

func (r *SQLReader) filter(db *gorm.DB) *gorm.DB {
	if strings.TrimSpace(r.config.Filter) == "" {
		return db
	}
	return db.Where(r.config.Filter)
}

func (r *SQLReader) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.config.QueryTimeout > 0 {
		return context.WithTimeout(ctx, r.config.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// classify decides whether a failed query means the store is unreachable or
// the table does not have the expected shape.
func (r *SQLReader) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	sqlDB, dbErr := r.db.DB()
	if dbErr != nil || sqlDB.PingContext(ctx) != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	// Reachable: check the table and columns exist.
	columnTypes, colErr := r.db.WithContext(ctx).Migrator().ColumnTypes(r.config.Table)
	if colErr != nil || len(columnTypes) == 0 {
		return fmt.Errorf("%w: table %s is not readable: %w", ErrSourceSchema, r.config.Table, err)
	}

	present := make(map[string]bool, len(columnTypes))
	for _, ct := range columnTypes {
		present[strings.ToLower(ct.Name())] = true
	}
	for _, col := range r.config.columns() {
		if !present[strings.ToLower(col)] {
			return fmt.Errorf("%w: column %s missing from %s", ErrSourceSchema, col, r.config.Table)
		}
	}

	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}

func (r *SQLReader) toRecords(rows []map[string]any) ([]core.SourceRecord, error) {
	records := make([]core.SourceRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := r.toRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *SQLReader) toRecord(row map[string]any) (core.SourceRecord, error) {
	idVal, ok := lookup(row, r.config.IDColumn)
	if !ok {
		return core.SourceRecord{}, fmt.Errorf("%w: column %s missing from result", ErrSourceSchema, r.config.IDColumn)
	}
	textVal, ok := lookup(row, r.config.TextColumn)
	if !ok {
		return core.SourceRecord{}, fmt.Errorf("%w: column %s missing from result", ErrSourceSchema, r.config.TextColumn)
	}
	cursorVal, ok := lookup(row, r.config.CursorColumn)
	if !ok {
		return core.SourceRecord{}, fmt.Errorf("%w: column %s missing from result", ErrSourceSchema, r.config.CursorColumn)
	}

	rowID, err := cast.ToUint64E(normalize(cursorVal))
	if err != nil {
		return core.SourceRecord{}, fmt.Errorf("%w: unreadable cursor value %v: %w", ErrSourceSchema, cursorVal, err)
	}
	id, err := cast.ToStringE(normalize(idVal))
	if err != nil {
		return core.SourceRecord{}, fmt.Errorf("%w: unreadable id value %v: %w", ErrSourceSchema, idVal, err)
	}

	rec := core.SourceRecord{
		ID:    id,
		Title: cast.ToString(normalize(textVal)),
		RowID: rowID,
	}

	if len(r.config.MetadataColumns) > 0 {
		rec.Metadata = make(map[string]string, len(r.config.MetadataColumns))
		for _, col := range r.config.MetadataColumns {
			if v, ok := lookup(row, col); ok && v != nil {
				rec.Metadata[col] = cast.ToString(normalize(v))
			}
		}
	}
	return rec, nil
}

// lookup finds a column value, tolerating case differences between the
// configured name and what the driver reports.
func lookup(row map[string]any, col string) (any, bool) {
	if v, ok := row[col]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, col) {
			return v, true
		}
	}
	return nil, false
}

// normalize converts driver byte slices to strings so cast can read them.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case *string:
		if t == nil {
			return nil
		}
		return *t
	default:
		return v
	}
}
