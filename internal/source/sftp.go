package source

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rotisserie/eris"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sells-group/stageload/internal/config"
)

const dialTimeout = 30 * time.Second

// DialSFTP opens an SFTP session. A key file and a password may both be
// given; the server picks. Without KnownHostsPath any host key is accepted.
func DialSFTP(ctx context.Context, cfg config.FileDropConfig) (RemoteFS, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, eris.Wrap(err, "sftp: read key")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, eris.Wrap(err, "sftp: parse key")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, eris.Wrap(err, "sftp: load known hosts")
		}
		hostKey = cb
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, eris.Wrapf(err, "sftp: dial %s", addr)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	})
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "sftp: handshake %s", addr)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sftp: start subsystem")
	}
	return &sftpFS{client: client, ssh: sshClient}, nil
}

type sftpFS struct {
	client *sftp.Client
	ssh    *ssh.Client
}

func (s *sftpFS) List(dir string) ([]string, error) {
	infos, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "sftp: read dir %s", dir)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	return names, nil
}

func (s *sftpFS) ReadFile(p string) ([]byte, error) {
	f, err := s.client.Open(p)
	if err != nil {
		return nil, eris.Wrapf(err, "sftp: open %s", p)
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, eris.Wrapf(err, "sftp: read %s", p)
	}
	return data, nil
}

func (s *sftpFS) Remove(p string) error {
	return eris.Wrapf(s.client.Remove(p), "sftp: remove %s", p)
}

func (s *sftpFS) Close() error {
	sftpErr := s.client.Close()
	sshErr := s.ssh.Close()
	if sftpErr != nil {
		return eris.Wrap(sftpErr, "sftp: close session")
	}
	if sshErr != nil {
		return eris.Wrap(sshErr, "sftp: close connection")
	}
	return nil
}
