package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_Basic(t *testing.T) {
	tab, err := ReadCSV(strings.NewReader("a,b,c\n1,2,3\n4,5,6\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tab.Header)
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5", "6"}}, tab.Rows)
}

func TestReadCSV_PipeDelimited(t *testing.T) {
	tab, err := ReadCSV(strings.NewReader("a|b\n1|2\n"), CSVOptions{Delimiter: '|'})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tab.Header)
	assert.Equal(t, [][]string{{"1", "2"}}, tab.Rows)
}

func TestReadCSV_DropIndexColumn(t *testing.T) {
	input := ",name,amount\n0,alice,1.5\n1,bob,2\n"
	tab, err := ReadCSV(strings.NewReader(input), CSVOptions{DropIndexColumn: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "amount"}, tab.Header)
	assert.Equal(t, [][]string{{"alice", "1.5"}, {"bob", "2"}}, tab.Rows)
}

func TestReadCSV_TrimSpaceAndBOM(t *testing.T) {
	input := "\ufeffid, name \n 1 , alice \n"
	tab, err := ReadCSV(strings.NewReader(input), CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, tab.Header)
	assert.Equal(t, [][]string{{"1", "alice"}}, tab.Rows)
}

func TestReadCSV_ShortRowAllowed(t *testing.T) {
	tab, err := ReadCSV(strings.NewReader("a,b,c\n1,2\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}}, tab.Rows)
}

func TestReadCSV_LongRowRejected(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2 has 3 fields")
}

func TestReadCSV_Empty(t *testing.T) {
	tab, err := ReadCSV(strings.NewReader(""), CSVOptions{})
	require.NoError(t, err)
	assert.Empty(t, tab.Header)
	assert.Empty(t, tab.Rows)
}

func TestReadCSV_Comment(t *testing.T) {
	tab, err := ReadCSV(strings.NewReader("a,b\n# skipped\n1,2\n"), CSVOptions{Comment: '#'})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}}, tab.Rows)
}
