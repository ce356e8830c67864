package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// FirstZIPEntry returns the contents of the first archive entry whose name
// ends in one of suffixes (case-insensitive).
func FirstZIPEntry(data []byte, suffixes ...string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !hasSuffix(f.Name, suffixes) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, eris.Wrapf(err, "zip: open entry %s", f.Name)
		}
		b, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "zip: read entry %s", f.Name)
		}
		return b, nil
	}
	return nil, eris.Errorf("zip: no entry matching %v", suffixes)
}

func hasSuffix(name string, suffixes []string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}
