package source

import (
	"context"
	"path"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/record"
)

// RemoteFS is a connected drop directory.
type RemoteFS interface {
	// List returns the names of regular files in dir.
	List(dir string) ([]string, error)
	ReadFile(p string) ([]byte, error)
	Remove(p string) error
	Close() error
}

// Dialer connects to a drop host.
type Dialer func(ctx context.Context, cfg config.FileDropConfig) (RemoteFS, error)

// FileDrop consumes every file in a remote directory, one batch per file in
// name order. Ack deletes a file once its batch is merged. A crash between
// the merge and the delete leaves the file to be loaded again.
type FileDrop struct {
	cfg  config.FileDropConfig
	dial Dialer
	fs   RemoteFS
	log  *zap.Logger
}

// NewFileDrop creates a drop directory source. dial is DialSFTP or DialFTP.
func NewFileDrop(cfg config.FileDropConfig, dial Dialer) *FileDrop {
	return &FileDrop{
		cfg:  cfg,
		dial: dial,
		log:  zap.L().With(zap.String("component", "source.file_drop"), zap.String("host", cfg.Host)),
	}
}

// Name implements Source.
func (f *FileDrop) Name() string { return f.cfg.Host + ":" + f.cfg.Dir }

// Extract lists the directory and reads every matching file. An empty
// directory is SourceNotFound.
func (f *FileDrop) Extract(ctx context.Context) ([]record.Batch, error) {
	if f.fs == nil {
		fs, err := f.dial(ctx, f.cfg)
		if err != nil {
			return nil, etlerr.New(etlerr.SourceUnavailable, stage, eris.Wrapf(err, "source: connect %s", f.cfg.Host))
		}
		f.fs = fs
	}

	names, err := f.fs.List(f.cfg.Dir)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, stage, eris.Wrapf(err, "source: list %s", f.cfg.Dir))
	}
	var matched []string
	for _, name := range names {
		if f.cfg.Pattern != "" {
			ok, err := path.Match(f.cfg.Pattern, name)
			if err != nil {
				return nil, etlerr.New(etlerr.ConfigurationError, stage, eris.Wrapf(err, "source: pattern %q", f.cfg.Pattern))
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, name)
	}
	sort.Strings(matched)
	if len(matched) == 0 {
		return nil, etlerr.New(etlerr.SourceNotFound, stage, eris.Errorf("source: no files in %s", f.Name()))
	}

	batches := make([]record.Batch, 0, len(matched))
	for _, name := range matched {
		p := path.Join(f.cfg.Dir, name)
		data, err := f.fs.ReadFile(p)
		if err != nil {
			return nil, etlerr.New(etlerr.SourceUnavailable, stage, eris.Wrapf(err, "source: read %s", p))
		}
		b, err := parseFile(p, data, f.cfg.File)
		if err != nil {
			return nil, err
		}
		f.log.Info("file read", zap.String("path", p), zap.Int("bytes", len(data)), zap.Int("records", b.Len()))
		batches = append(batches, b)
	}
	return batches, nil
}

// Ack implements Acknowledger by removing the batch's file, unless the source
// is configured to keep files.
func (f *FileDrop) Ack(_ context.Context, b record.Batch) error {
	if f.cfg.Keep {
		return nil
	}
	if f.fs == nil {
		return eris.New("source: ack before extract")
	}
	if err := f.fs.Remove(b.Name); err != nil {
		return etlerr.New(etlerr.SourceUnavailable, stage, eris.Wrapf(err, "source: remove %s", b.Name))
	}
	f.log.Info("file removed", zap.String("path", b.Name))
	return nil
}

// Close implements Source.
func (f *FileDrop) Close() error {
	if f.fs == nil {
		return nil
	}
	err := f.fs.Close()
	f.fs = nil
	return err
}
