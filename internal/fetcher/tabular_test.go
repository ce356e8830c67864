package fetcher

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func createTestZIP(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestParseTabular_DefaultCSV(t *testing.T) {
	tab, err := ParseTabular([]byte("x,y\n1,2\n"), TabularOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, tab.Header)
	assert.Len(t, tab.Rows, 1)
}

func TestParseTabular_XLSX(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"report title"},
			{"Name", "Age"},
			{"Alice", "30"},
		},
	})
	tab, err := ParseTabular(data, TabularOptions{Format: "xlsx", XLSX: XLSXOptions{SkipRows: 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Age"}, tab.Header)
	assert.Equal(t, [][]string{{"Alice", "30"}}, tab.Rows)
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{"Data": {{"a"}}})
	_, err := ReadXLSX(data, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSX_IndexOutOfRange(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{"Data": {{"a"}}})
	_, err := ReadXLSX(data, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestParseTabular_ZIP(t *testing.T) {
	data := createTestZIP(t, map[string]string{
		"readme.md":  "ignore me",
		"export.CSV": "k,v\na,1\n",
	})
	tab, err := ParseTabular(data, TabularOptions{Format: "zip"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "v"}, tab.Header)
	assert.Equal(t, [][]string{{"a", "1"}}, tab.Rows)
}

func TestFirstZIPEntry_NoMatch(t *testing.T) {
	data := createTestZIP(t, map[string]string{"a.json": "{}"})
	_, err := FirstZIPEntry(data, ".csv")
	require.Error(t, err)
}

func TestFirstZIPEntry_InvalidArchive(t *testing.T) {
	_, err := FirstZIPEntry([]byte("not a zip"), ".csv")
	require.Error(t, err)
}

func TestParseTabular_UnsupportedFormat(t *testing.T) {
	_, err := ParseTabular([]byte("{}"), TabularOptions{Format: "parquet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}
