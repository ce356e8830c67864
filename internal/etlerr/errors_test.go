package etlerr

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want []string
	}{
		{
			name: "status",
			err:  Status(EndpointError, "source.rest", 503, errors.New("page 2")),
			want: []string{"source.rest", "endpoint_error", "status 503", "page 2"},
		},
		{
			name: "column",
			err:  Column(SchemaMismatch, "normalize", "ORDER_ID", nil),
			want: []string{"schema_mismatch", `column "ORDER_ID"`},
		},
		{
			name: "placeholders",
			err:  Unresolved("config", []string{"source.bucket", "columns[0]"}),
			want: []string{"configuration_error", "source.bucket, columns[0]"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, w := range tt.want {
				assert.Contains(t, msg, w)
			}
		})
	}
}

func TestKindOf_ThroughErisWrap(t *testing.T) {
	base := New(SourceNotFound, "source.s3", errors.New("orders/20250101.csv"))
	wrapped := eris.Wrap(eris.Wrap(base, "extract"), "pipeline: run")

	assert.Equal(t, SourceNotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, SourceNotFound))
	assert.False(t, Is(wrapped, SourceUnavailable))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "source.s3", e.Stage)
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Is(nil, TransformError))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := New(WarehouseWriteError, "stage", cause)
	assert.ErrorIs(t, err, cause)
}
