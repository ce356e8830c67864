package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGJSONCursor(t *testing.T) {
	fn := GJSONCursor("meta.next")

	c, ok := fn([]byte(`{"meta":{"next":"abc"}}`))
	assert.True(t, ok)
	assert.Equal(t, "abc", c)

	c, ok = fn([]byte(`{"meta":{"next":42}}`))
	assert.True(t, ok)
	assert.Equal(t, "42", c)

	for _, body := range []string{`{"meta":{}}`, `{"meta":{"next":null}}`, `{"meta":{"next":""}}`, `{}`} {
		_, ok = fn([]byte(body))
		assert.False(t, ok, body)
	}

	_, ok = GJSONCursor("")([]byte(`{"next":"abc"}`))
	assert.False(t, ok)
}

func TestPaginator_States(t *testing.T) {
	p := NewPaginator(GJSONCursor("next"))
	assert.Equal(t, HasNextPage, p.State())
	assert.Empty(t, p.Cursor())

	assert.Equal(t, HasNextPage, p.Advance([]byte(`{"next":"abc"}`)))
	assert.Equal(t, "abc", p.Cursor())
	assert.Equal(t, 1, p.Pages())

	assert.Equal(t, Exhausted, p.Advance([]byte(`{"data":[]}`)))
	assert.Empty(t, p.Cursor())
	assert.Equal(t, 2, p.Pages())
	assert.Equal(t, "exhausted", p.State().String())
}
