package source

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

type record struct {
	ID       string `gorm:"column:id;primaryKey"`
	Title    string `gorm:"column:title"`
	RowID    uint64 `gorm:"column:RowID;uniqueIndex"`
	Supplier string `gorm:"column:supplier"`
	Status   string `gorm:"column:status"`
}

func (record) TableName() string { return "records" }

func setupTestDB(t *testing.T, n int) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "source.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&record{}))

	for i := 1; i <= n; i++ {
		status := "new"
		if i%10 == 0 {
			status = "done"
		}
		require.NoError(t, db.Create(&record{
			ID:       fmt.Sprintf("rec-%03d", i),
			Title:    fmt.Sprintf("SİLECEK SÜPÜRGESİ FORD FOCUS %d", i),
			RowID:    uint64(i * 10),
			Supplier: "acme",
			Status:   status,
		}).Error)
	}
	return db
}

func newTestReader(t *testing.T, db *gorm.DB, mutate func(*Config)) *SQLReader {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dialect = DialectSQLite
	cfg.DSN = "unused"
	cfg.MaxOpenConns = 1
	if mutate != nil {
		mutate(cfg)
	}
	r, err := NewReader(db, cfg)
	require.NoError(t, err)
	return r
}

func TestSQLReader_FetchBatch(t *testing.T) {
	db := setupTestDB(t, 25)
	r := newTestReader(t, db, nil)
	ctx := context.Background()

	records, next, hasMore, err := r.FetchBatch(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 10)
	assert.True(t, hasMore)
	assert.Equal(t, core.Cursor(100), next)
	assert.Equal(t, "rec-001", records[0].ID)
	assert.Equal(t, uint64(10), records[0].RowID)
	assert.Contains(t, records[0].Title, "FORD FOCUS 1")

	for i := 1; i < len(records); i++ {
		assert.Greater(t, records[i].RowID, records[i-1].RowID, "records are in cursor order")
	}

	// Continue from the returned cursor.
	records, next, hasMore, err = r.FetchBatch(ctx, next, 10)
	require.NoError(t, err)
	require.Len(t, records, 10)
	assert.Equal(t, "rec-011", records[0].ID)
	assert.True(t, hasMore)

	records, next, hasMore, err = r.FetchBatch(ctx, next, 10)
	require.NoError(t, err)
	assert.Len(t, records, 5, "final batch is short")
	assert.False(t, hasMore)
	assert.Equal(t, core.Cursor(250), next)

	records, after, hasMore, err := r.FetchBatch(ctx, next, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.False(t, hasMore)
	assert.Equal(t, next, after, "an empty batch keeps the cursor")
}

func TestSQLReader_FetchBatchIsRepeatable(t *testing.T) {
	db := setupTestDB(t, 12)
	r := newTestReader(t, db, nil)

	first, _, _, err := r.FetchBatch(context.Background(), 30, 5)
	require.NoError(t, err)
	again, _, _, err := r.FetchBatch(context.Background(), 30, 5)
	require.NoError(t, err)
	assert.Equal(t, first, again, "re-issuing a fetch returns the same batch")
}

func TestSQLReader_FilterAndMetadata(t *testing.T) {
	db := setupTestDB(t, 20)
	r := newTestReader(t, db, func(c *Config) {
		c.Filter = "status = 'new'"
		c.MetadataColumns = []string{"supplier"}
	})

	records, _, hasMore, err := r.FetchBatch(context.Background(), 0, 50)
	require.NoError(t, err)
	assert.Len(t, records, 18, "rows 10 and 20 are filtered out")
	assert.False(t, hasMore)
	assert.Equal(t, "acme", records[0].Metadata["supplier"])

	count, err := r.Count(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(18), count)

	count, err = r.Count(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(9), count)
}

func TestSQLReader_FetchByIDs(t *testing.T) {
	db := setupTestDB(t, 10)
	r := newTestReader(t, db, nil)

	records, err := r.FetchByIDs(context.Background(), []string{"rec-007", "rec-002", "missing"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec-002", records[0].ID, "results are in cursor order")
	assert.Equal(t, "rec-007", records[1].ID)

	records, err = r.FetchByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLReader_SchemaError(t *testing.T) {
	db := setupTestDB(t, 3)

	t.Run("missing column", func(t *testing.T) {
		r := newTestReader(t, db, func(c *Config) { c.TextColumn = "description" })
		_, _, _, err := r.FetchBatch(context.Background(), 0, 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSourceSchema)
	})

	t.Run("missing table", func(t *testing.T) {
		r := newTestReader(t, db, func(c *Config) { c.Table = "products" })
		_, _, _, err := r.FetchBatch(context.Background(), 0, 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSourceSchema)
	})

	t.Run("unreadable cursor", func(t *testing.T) {
		require.NoError(t, db.Exec("CREATE TABLE odd (id TEXT, title TEXT, RowID TEXT)").Error)
		require.NoError(t, db.Exec("INSERT INTO odd VALUES ('x', 'brake pad', 'abc')").Error)

		r := newTestReader(t, db, func(c *Config) { c.Table = "odd" })
		_, _, _, err := r.FetchBatch(context.Background(), 0, 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSourceSchema)
	})
}

func TestSQLReader_Unavailable(t *testing.T) {
	db := setupTestDB(t, 3)
	r := newTestReader(t, db, nil)
	require.NoError(t, r.Close())

	_, _, _, err := r.FetchBatch(context.Background(), 0, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestSQLReader_InvalidBatchSize(t *testing.T) {
	db := setupTestDB(t, 1)
	r := newTestReader(t, db, nil)
	_, _, _, err := r.FetchBatch(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DSN = "clickhouse://localhost:9000/default"
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Dialect = "postgres"
	assert.ErrorIs(t, bad.Validate(), ErrUnsupportedDialect)

	bad = *cfg
	bad.DSN = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.CursorColumn = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.MaxOpenConns = 0
	assert.Error(t, bad.Validate())
}

func TestConfig_Columns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetadataColumns = []string{"sku", "title", "sku"}
	assert.Equal(t, []string{"id", "title", "RowID", "sku"}, cfg.columns())
}

func TestNewReader_DoesNotModifyConfig(t *testing.T) {
	db := setupTestDB(t, 3)
	cfg := DefaultConfig()
	cfg.Dialect = DialectSQLite
	cfg.DSN = "unused"
	cfg.MaxOpenConns = 0
	cfg.MetadataColumns = []string{"supplier"}

	r, err := NewReader(db, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MaxOpenConns, "caller's config is left alone")
	assert.Equal(t, 1, r.config.MaxOpenConns)

	cfg.MetadataColumns[0] = "status"
	assert.Equal(t, []string{"supplier"}, r.config.MetadataColumns)
}
