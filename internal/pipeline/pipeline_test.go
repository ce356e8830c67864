package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/record"
	"github.com/sells-group/stageload/internal/runmeta"
	"github.com/sells-group/stageload/internal/warehouse"
)

var appCfg = &config.Config{
	Metadata: config.MetadataConfig{
		Schema:       "ops",
		TaskTable:    "task_list",
		HistoryTable: "task_run_history",
		TimeZone:     "UTC",
	},
}

const restDataset = `
name: customers
create_tables: true
task:
  description: Customer export
  frequency: daily
source:
  type: rest
  rest:
    base_url: %s
    path: /v1/customers
    records_path: data.items
    cursor_path: data.next
    cursor_param: cursor
columns: [id, customer_name, amount]
staging:
  schema: stage
  table: customers
  auto_create: true
persisted:
  schema: persist
  table: customers
  casts:
    - {column: id, type: integer}
    - {column: customer_name, type: text}
    - {column: amount, type: numeric, precision: 10, scale: 2}
presentation:
  schema: present
  table: customers
  keys: [id]
`

func customerServer(t *testing.T, fetches *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if r.URL.Query().Get("cursor") == "abc" {
			_, _ = w.Write([]byte(`{"data":{"items":[
				{"id":3,"customer":{"name":"carol"},"amount":"4.5"}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"next":"abc","items":[
			{"id":1,"customer":{"name":" alice "},"amount":"10.005"},
			{"id":2,"customer":{"name":"bob"},"amount":"3"}]}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func presentationRows(t *testing.T, wh warehouse.Warehouse) [][]any {
	t.Helper()
	tbl, err := wh.Query(context.Background(),
		`SELECT "id", "customer_name", "amount" FROM "present_customers" ORDER BY "id"`)
	require.NoError(t, err)
	return tbl.Rows
}

func TestPipeline_RESTEndToEnd(t *testing.T) {
	ctx := context.Background()
	wh := openSQLite(t)
	require.NoError(t, runmeta.Migrate(ctx, wh, appCfg.Metadata))

	var fetches atomic.Int32
	srv := customerServer(t, &fetches)
	ds, err := config.ParseDataset([]byte(fmt.Sprintf(restDataset, srv.URL)))
	require.NoError(t, err)

	p, err := Build(ctx, appCfg, ds, Deps{Warehouse: wh})
	require.NoError(t, err)
	defer p.Close() //nolint:errcheck

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, int64(3), res.Staged)
	assert.Equal(t, int64(3), res.Persisted.Written)
	assert.Equal(t, int64(3), res.Merged)
	assert.NotEmpty(t, res.RunID)
	_, failed := res.Failed()
	assert.False(t, failed)

	want := [][]any{
		{int64(1), "ALICE", "10.01"},
		{int64(2), "BOB", "3.00"},
		{int64(3), "CAROL", "4.50"},
	}
	assert.Equal(t, want, presentationRows(t, wh))

	runs, err := runmeta.History(ctx, wh, appCfg.Metadata, "customers", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, runmeta.Completed, runs[0].Status)

	// A second run over the same data leaves the presentation table unchanged.
	p2, err := Build(ctx, appCfg, ds, Deps{Warehouse: wh})
	require.NoError(t, err)
	_, err = p2.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, presentationRows(t, wh))

	runs, err = runmeta.History(ctx, wh, appCfg.Metadata, "customers", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Name() string { return m.Called().String(0) }

func (m *mockSource) Extract(ctx context.Context) ([]record.Batch, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]record.Batch), args.Error(1)
}

func (m *mockSource) Close() error { return m.Called().Error(0) }

// ackSource is a mockSource that also consumes its batches.
type ackSource struct {
	mockSource
	acked []string
}

func (a *ackSource) Ack(_ context.Context, b record.Batch) error {
	a.acked = append(a.acked, b.Name)
	return nil
}

func fileDataset() *config.DatasetConfig {
	return &config.DatasetConfig{
		Name:    "orders",
		Task:    config.TaskConfig{Name: "orders_drop"},
		Columns: []string{"ID", "NAME"},
		Staging: config.StagingConfig{TableConfig: config.TableConfig{Schema: "stage", Table: "orders"}},
		Persisted: config.PersistedConfig{
			TableConfig: config.TableConfig{Schema: "persist", Table: "orders"},
			Mode:        "overwrite",
			Strictness:  "strict",
			Casts:       []config.CastRule{{Column: "ID", Type: "integer"}, {Column: "NAME", Type: "text"}},
		},
		Presentation: config.PresentationConfig{
			TableConfig: config.TableConfig{Schema: "present", Table: "orders"},
			Keys:        []string{"ID"},
			Mode:        "merge",
		},
		CreateTables: true,
	}
}

func newRecorder(t *testing.T, wh warehouse.Warehouse, task config.TaskConfig) *runmeta.Recorder {
	t.Helper()
	require.NoError(t, runmeta.Migrate(context.Background(), wh, appCfg.Metadata))
	r, err := runmeta.New(wh, appCfg.Metadata, task,
		runmeta.WithClock(func() time.Time { return time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)
	return r
}

func fileBatch(name string, rows ...[]string) record.Batch {
	b := record.Batch{Name: name, Columns: []string{"ID", "NAME"}}
	for _, r := range rows {
		b.Records = append(b.Records, record.Record{"ID": r[0], "NAME": r[1]})
	}
	return b
}

func TestPipeline_BatchesMergeAndAck(t *testing.T) {
	ctx := context.Background()
	wh := openSQLite(t)
	ds := fileDataset()

	src := &ackSource{}
	src.On("Name").Return("drop:/outbound")
	src.On("Extract", mock.Anything).Return([]record.Batch{
		fileBatch("/outbound/a.csv", []string{"1", "ann"}, []string{"2", "ben"}),
		fileBatch("/outbound/b.csv", []string{"2", "benjamin"}, []string{"3", "cy"}),
	}, nil)

	p, err := New(ds, wh, src, newRecorder(t, wh, ds.Task))
	require.NoError(t, err)
	res, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, int64(4), res.Staged)
	assert.Equal(t, []string{"/outbound/a.csv", "/outbound/b.csv"}, src.acked)

	tbl, err := wh.Query(ctx, `SELECT "ID", "NAME" FROM "present_orders" ORDER BY "ID"`)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), "ANN"}, {int64(2), "BENJAMIN"}, {int64(3), "CY"}}, tbl.Rows)

	// Persisted is overwritten per batch, so it holds the last file only.
	tbl, err = wh.Query(ctx, `SELECT "ID" FROM "persist_orders" ORDER BY "ID"`)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(2)}, {int64(3)}}, tbl.Rows)

	var phases []string
	for _, ph := range res.Phases {
		phases = append(phases, ph.Name)
	}
	assert.Equal(t, []string{
		PhasePrepare, PhaseExtract,
		PhaseNormalize, PhaseStage, PhasePersist, PhaseMerge, PhaseAck,
		PhaseNormalize, PhaseStage, PhasePersist, PhaseMerge, PhaseAck,
	}, phases)
	src.AssertExpectations(t)
}

func TestPipeline_CumulativePersistedLatestValueWins(t *testing.T) {
	ctx := context.Background()
	wh := openSQLite(t)
	ds := fileDataset()
	ds.Persisted.Mode = "append"

	for _, name := range []string{"ann", "anna"} {
		src := &mockSource{}
		src.On("Name").Return("drop:/outbound")
		src.On("Extract", mock.Anything).Return([]record.Batch{
			fileBatch("/outbound/a.csv", []string{"1", name}, []string{"2", "ben"}),
		}, nil)

		p, err := New(ds, wh, src, newRecorder(t, wh, ds.Task))
		require.NoError(t, err)
		_, err = p.Run(ctx)
		require.NoError(t, err)
	}

	tbl, err := wh.Query(ctx, `SELECT "ID", "NAME" FROM "persist_orders" ORDER BY "ID", "NAME"`)
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 4)

	tbl, err = wh.Query(ctx, `SELECT "ID", "NAME" FROM "present_orders" ORDER BY "ID"`)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), "ANNA"}, {int64(2), "BEN"}}, tbl.Rows)
}

func TestPipeline_SchemaMismatchStopsBeforeAck(t *testing.T) {
	ctx := context.Background()
	wh := openSQLite(t)
	ds := fileDataset()

	bad := record.Batch{Name: "/outbound/b.csv", Columns: []string{"ID"}, Records: []record.Record{{"ID": "4"}}}
	src := &ackSource{}
	src.On("Name").Return("drop:/outbound")
	src.On("Extract", mock.Anything).Return([]record.Batch{
		fileBatch("/outbound/a.csv", []string{"1", "ann"}),
		bad,
	}, nil)

	p, err := New(ds, wh, src, newRecorder(t, wh, ds.Task))
	require.NoError(t, err)
	res, err := p.Run(ctx)
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.SchemaMismatch))
	assert.Equal(t, []string{"/outbound/a.csv"}, src.acked)

	phase, ok := res.Failed()
	require.True(t, ok)
	assert.Equal(t, PhaseNormalize, phase.Name)
	assert.Equal(t, "/outbound/b.csv", phase.Batch)
}

func TestPipeline_SourceFailureMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	wh := openSQLite(t)
	ds := fileDataset()

	src := &mockSource{}
	src.On("Name").Return("s3://exports")
	src.On("Extract", mock.Anything).Return(nil,
		etlerr.New(etlerr.SourceNotFound, "source", eris.New("source: no object exports/orders_20240302.csv")))

	p, err := New(ds, wh, src, newRecorder(t, wh, ds.Task))
	require.NoError(t, err)
	res, err := p.Run(ctx)
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.SourceNotFound))
	assert.NotEmpty(t, res.RunID)

	current, err := runmeta.Current(ctx, wh, appCfg.Metadata, ds.Task.Name)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, runmeta.Failed, current[0].Status)
	assert.Contains(t, current[0].Error, "source_not_found")

	history, err := runmeta.History(ctx, wh, appCfg.Metadata, ds.Task.Name, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPipeline_TransformErrorNamesColumn(t *testing.T) {
	ctx := context.Background()
	wh := openSQLite(t)
	ds := fileDataset()

	src := &mockSource{}
	src.On("Name").Return("drop:/outbound")
	src.On("Extract", mock.Anything).Return([]record.Batch{
		fileBatch("/outbound/a.csv", []string{"1", "ann"}, []string{"two", "ben"}),
	}, nil)

	p, err := New(ds, wh, src, newRecorder(t, wh, ds.Task))
	require.NoError(t, err)
	_, err = p.Run(ctx)
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.TransformError))
	e, ok := etlerr.As(err)
	require.True(t, ok)
	assert.Equal(t, "ID", e.Column)
}

func TestNew_InvalidMergeKeys(t *testing.T) {
	wh := openSQLite(t)
	ds := fileDataset()
	ds.Presentation.Keys = []string{"MISSING"}

	_, err := New(ds, wh, &mockSource{}, newRecorder(t, wh, ds.Task))
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.ConfigurationError))
}
