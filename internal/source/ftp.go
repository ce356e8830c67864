package source

import (
	"context"
	"io"
	"net"
	"strconv"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
)

// DialFTP connects and logs in to an FTP server.
func DialFTP(ctx context.Context, cfg config.FileDropConfig) (RemoteFS, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	zap.L().Debug("ftp: connecting", zap.String("addr", addr))

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(dialTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}
	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "ftp login")
	}
	return &ftpFS{conn: conn}, nil
}

type ftpFS struct {
	conn *ftp.ServerConn
}

func (f *ftpFS) List(dir string) ([]string, error) {
	entries, err := f.conn.List(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "ftp list %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFile {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

func (f *ftpFS) ReadFile(p string) ([]byte, error) {
	resp, err := f.conn.Retr(p)
	if err != nil {
		return nil, eris.Wrapf(err, "ftp retrieve %s", p)
	}
	data, err := io.ReadAll(resp)
	closeErr := resp.Close()
	if err != nil {
		return nil, eris.Wrapf(err, "ftp read %s", p)
	}
	if closeErr != nil {
		return nil, eris.Wrapf(closeErr, "close ftp response %s", p)
	}
	return data, nil
}

func (f *ftpFS) Remove(p string) error {
	return eris.Wrapf(f.conn.Delete(p), "ftp delete %s", p)
}

func (f *ftpFS) Close() error {
	return eris.Wrap(f.conn.Quit(), "quit ftp connection")
}
