package transform

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/warehouse"
)

func testDataset(strictness, mode string) *config.DatasetConfig {
	return &config.DatasetConfig{
		Name:    "orders",
		Columns: []string{"ID", "NAME", "AMOUNT", "ORDER_DATE"},
		Staging: config.StagingConfig{TableConfig: config.TableConfig{Schema: "stage", Table: "orders"}},
		Persisted: config.PersistedConfig{
			TableConfig: config.TableConfig{Schema: "persist", Table: "orders"},
			Mode:        mode,
			Strictness:  strictness,
			Casts: []config.CastRule{
				{Column: "NAME", Type: CastText},
				{Column: "AMOUNT", Type: CastNumeric, Precision: 10, Scale: 2},
				{Column: "ORDER_DATE", Type: CastDate},
			},
			Filter: map[string]any{">": []any{map[string]any{"var": "AMOUNT"}, 0}},
		},
	}
}

var stagedOrders = [][]any{
	{"1", " alice ", "10.005", "2024-01-15"},
	{"1", "Alice", "10.01", "01/15/2024"},
	{"2", "bob", "-5", "2024-01-16"},
	{"3", "carol", "n/a", "2024-01-17"},
	{"4", "dave", "7.5", ""},
}

func setupPersist(t *testing.T, ds *config.DatasetConfig) (*warehouse.SQLDB, *Persister) {
	t.Helper()
	ctx := context.Background()
	wh, err := warehouse.OpenSQLite(ctx, filepath.Join(t.TempDir(), "wh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() }) //nolint:errcheck

	_, err = wh.BulkWrite(ctx, warehouse.Ref(ds.Staging.TableConfig), ds.Columns, stagedOrders,
		warehouse.WriteOptions{Mode: warehouse.ModeOverwrite, AutoCreate: true})
	require.NoError(t, err)

	p, err := NewPersister(wh, ds)
	require.NoError(t, err)
	require.NoError(t, warehouse.EnsureTable(ctx, wh, warehouse.Ref(ds.Persisted.TableConfig), p.ColumnDefs(), nil))
	return wh, p
}

func persistedRows(t *testing.T, wh warehouse.Warehouse) [][]any {
	t.Helper()
	tbl, err := wh.Query(context.Background(), `SELECT * FROM "persist_orders" ORDER BY "ID"`)
	require.NoError(t, err)
	return tbl.Rows
}

func TestPersister_Lenient(t *testing.T) {
	ctx := context.Background()
	wh, p := setupPersist(t, testDataset(Lenient, "overwrite"))

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, PersistResult{Read: 5, Written: 2, Filtered: 1, Dropped: 1, Duplicates: 1}, res)

	rows := persistedRows(t, wh)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0][0])
	assert.Equal(t, "ALICE", rows[0][1])
	assert.Equal(t, "10.01", rows[0][2])
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), rows[0][3].(time.Time).UTC())
	assert.Equal(t, []any{"4", "DAVE", "7.50", nil}, rows[1])

	// Overwrite leaves the same state on a rerun.
	_, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, persistedRows(t, wh), 2)
}

func TestPersister_AppendAccumulates(t *testing.T) {
	ctx := context.Background()
	wh, p := setupPersist(t, testDataset(Lenient, "append"))

	_, err := p.Run(ctx)
	require.NoError(t, err)
	_, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, persistedRows(t, wh), 4)
	// Only the latest write is handed on to the merge.
	assert.Len(t, p.Written(), 2)
}

func TestPersister_StrictAborts(t *testing.T) {
	wh, p := setupPersist(t, testDataset(Strict, "overwrite"))

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.TransformError))
	e, _ := etlerr.As(err)
	assert.Equal(t, "AMOUNT", e.Column)
	assert.Contains(t, err.Error(), "staged row 3")
	assert.Contains(t, err.Error(), `"n/a"`)
	assert.Empty(t, persistedRows(t, wh))
}

func TestNewPersister_ConfigurationErrors(t *testing.T) {
	ds := testDataset(Strict, "overwrite")
	ds.Persisted.Filter = "{not json"
	_, err := NewPersister(nil, ds)
	assert.True(t, etlerr.Is(err, etlerr.ConfigurationError))

	ds = testDataset(Strict, "overwrite")
	ds.Persisted.Casts = append(ds.Persisted.Casts, config.CastRule{Column: "MISSING", Type: CastText})
	_, err = NewPersister(nil, ds)
	assert.True(t, etlerr.Is(err, etlerr.ConfigurationError))
}

func TestPersister_MissingStagingTable(t *testing.T) {
	ds := testDataset(Strict, "overwrite")
	_, p := setupPersist(t, ds)
	p.staging = warehouse.TableRef{Name: "nope"}

	_, err := p.Run(context.Background())
	assert.True(t, etlerr.Is(err, etlerr.WarehouseWriteError))
}
