package merge

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/warehouse"
)

func testDataset(mode string, keys ...string) *config.DatasetConfig {
	return &config.DatasetConfig{
		Name:         "accounts",
		Columns:      []string{"key", "val"},
		Persisted:    config.PersistedConfig{TableConfig: config.TableConfig{Schema: "persist", Table: "accounts"}},
		Presentation: config.PresentationConfig{TableConfig: config.TableConfig{Schema: "present", Table: "dim_accounts"}, Keys: keys, Mode: mode},
	}
}

func setup(t *testing.T, ds *config.DatasetConfig, persisted, presentation [][]any) warehouse.Warehouse {
	t.Helper()
	ctx := context.Background()
	wh, err := warehouse.OpenSQLite(ctx, filepath.Join(t.TempDir(), "wh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() }) //nolint:errcheck

	defs := []warehouse.ColumnDef{{Name: "key", Kind: warehouse.KindInteger}, {Name: "val", Kind: warehouse.KindText}}
	persistRef := warehouse.Ref(ds.Persisted.TableConfig)
	presentRef := warehouse.Ref(ds.Presentation.TableConfig)
	require.NoError(t, warehouse.EnsureTable(ctx, wh, persistRef, defs, nil))
	require.NoError(t, warehouse.EnsureTable(ctx, wh, presentRef, defs, ds.Presentation.Keys))

	_, err = wh.BulkWrite(ctx, persistRef, ds.Columns, persisted, warehouse.WriteOptions{Mode: warehouse.ModeAppend})
	require.NoError(t, err)
	_, err = wh.BulkWrite(ctx, presentRef, ds.Columns, presentation, warehouse.WriteOptions{Mode: warehouse.ModeAppend})
	require.NoError(t, err)
	return wh
}

func presentation(t *testing.T, wh warehouse.Warehouse) [][]any {
	t.Helper()
	tbl, err := wh.Query(context.Background(), `SELECT "key", "val" FROM "present_dim_accounts" ORDER BY "key"`)
	require.NoError(t, err)
	return tbl.Rows
}

func TestMerger_UpdatesAndInserts(t *testing.T) {
	ctx := context.Background()
	ds := testDataset(ModeMerge, "key")
	wh := setup(t, ds, [][]any{{1, "A"}, {2, "B"}}, [][]any{{1, "OLD"}})

	m, err := New(wh, ds)
	require.NoError(t, err)

	_, err = m.Run(ctx, nil)
	require.NoError(t, err)
	want := [][]any{{int64(1), "A"}, {int64(2), "B"}}
	assert.Equal(t, want, presentation(t, wh))

	// Same snapshot again: same state.
	_, err = m.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, want, presentation(t, wh))
}

func TestMerger_ExactDuplicatesCollapse(t *testing.T) {
	ds := testDataset(ModeMerge, "key")
	wh := setup(t, ds, [][]any{{3, "C"}, {3, "C"}}, nil)

	m, err := New(wh, ds)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(3), "C"}}, presentation(t, wh))
}

func TestMerger_ConflictingDuplicatesKeepOneRow(t *testing.T) {
	ds := testDataset(ModeMerge, "key")
	wh := setup(t, ds, [][]any{{3, "C"}, {3, "D"}}, nil)

	m, err := New(wh, ds)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, presentation(t, wh), 1)
}

func TestMerger_AppendMergesLatestWrite(t *testing.T) {
	ctx := context.Background()
	ds := testDataset(ModeMerge, "key")
	ds.Persisted.Mode = "append"
	wh := setup(t, ds, [][]any{{1, "A"}}, nil)

	m, err := New(wh, ds)
	require.NoError(t, err)
	_, err = m.Run(ctx, [][]any{{1, "A"}})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), "A"}}, presentation(t, wh))

	// Second run: the cumulative table now holds key 1 twice.
	second := [][]any{{1, "B"}, {2, "X"}}
	_, err = wh.BulkWrite(ctx, warehouse.Ref(ds.Persisted.TableConfig), ds.Columns, second,
		warehouse.WriteOptions{Mode: warehouse.ModeAppend})
	require.NoError(t, err)

	_, err = m.Run(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), "B"}, {int64(2), "X"}}, presentation(t, wh))
}

func TestMerger_AppendLastRowPerKeyWins(t *testing.T) {
	ds := testDataset(ModeMerge, "key")
	ds.Persisted.Mode = "append"
	wh := setup(t, ds, nil, [][]any{{3, "OLD"}})

	m, err := New(wh, ds)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), [][]any{{3, "C"}, {4, "E"}, {3, "D"}})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(3), "D"}, {int64(4), "E"}}, presentation(t, wh))
}

func TestMerger_AppendNothingWritten(t *testing.T) {
	ds := testDataset(ModeMerge, "key")
	ds.Persisted.Mode = "append"
	wh := setup(t, ds, [][]any{{1, "A"}, {1, "B"}}, [][]any{{1, "KEEP"}})

	m, err := New(wh, ds)
	require.NoError(t, err)
	n, err := m.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, [][]any{{int64(1), "KEEP"}}, presentation(t, wh))
}

func TestMerger_Replace(t *testing.T) {
	ds := testDataset(ModeReplace)
	wh := setup(t, ds, [][]any{{1, "A"}, {2, "B"}}, [][]any{{9, "STALE"}})

	m, err := New(wh, ds)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), "A"}, {int64(2), "B"}}, presentation(t, wh))
}

func TestNew_KeyValidation(t *testing.T) {
	tests := []struct {
		name string
		ds   *config.DatasetConfig
		want string
	}{
		{"no keys", testDataset(ModeMerge), "natural key columns are required"},
		{"unknown key", testDataset(ModeMerge, "id"), `key "id" is not a column`},
		{"unknown mode", testDataset("upsert", "key"), `unknown mode "upsert"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, tt.ds)
			require.Error(t, err)
			assert.True(t, etlerr.Is(err, etlerr.ConfigurationError))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMerger_PostgresStatement(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "present"."dim_accounts" ("key", "val") ` +
		`SELECT DISTINCT "key", "val" FROM "persist"."accounts" ` +
		`ON CONFLICT ("key") DO UPDATE SET "val" = excluded."val"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	m, err := New(warehouse.NewPostgres(mock), testDataset(ModeMerge, "key"))
	require.NoError(t, err)
	n, err := m.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMerger_PostgresAppendStatement(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "present"."dim_accounts" ("key", "val") VALUES ($1, $2), ($3, $4) `+
		`ON CONFLICT ("key") DO UPDATE SET "val" = excluded."val"`)).
		WithArgs(1, "B", 2, "X").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	ds := testDataset(ModeMerge, "key")
	ds.Persisted.Mode = "append"
	m, err := New(warehouse.NewPostgres(mock), ds)
	require.NoError(t, err)
	n, err := m.Run(context.Background(), [][]any{{1, "A"}, {2, "X"}, {1, "B"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
