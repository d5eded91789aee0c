package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client implements Transport over a single SSH connection and SFTP session.
type Client struct {
	config *Config

	mu          sync.Mutex
	conn        *ssh.Client
	sftp        *sftp.Client
	connectedAt time.Time
}

// NewClient creates a new SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes an SSH connection to the remote host. It is a no-op
// when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connCh := make(chan *ssh.Client, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	var conn *ssh.Client
	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errCh:
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	case conn = <-connCh:
	}

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	c.conn = conn
	c.sftp = sftpClient
	c.connectedAt = time.Now()

	log.Info().Str("address", address).Msg("SSH connection established")
	return nil
}

// Close closes the SFTP session and the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	log.Debug().
		Str("host", c.config.Host).
		Dur("connected_for", time.Since(c.connectedAt)).
		Msg("closing SSH connection")

	sftpErr := c.sftp.Close()
	connErr := c.conn.Close()
	c.sftp = nil
	c.conn = nil

	if err := errors.Join(sftpErr, connErr); err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) session() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp == nil {
		return nil, &TransportError{Op: "session", Err: fmt.Errorf("not connected")}
	}
	return c.sftp, nil
}

// ReadFile downloads the whole file at remotePath.
func (c *Client) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}

	f, err := client.Open(remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", remotePath, ErrNotExist)
		}
		return nil, &TransportError{Op: "read", Err: err, IsTemporary: true}
	}
	defer f.Close()

	data, err := io.ReadAll(readerWithContext{ctx: ctx, r: f})
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err, IsTemporary: true}
	}

	log.Debug().Str("remote", remotePath).Int("bytes", len(data)).Msg("file downloaded")
	return data, nil
}

// WriteFile uploads data to a temporary file next to remotePath and renames
// it into place.
func (c *Client) WriteFile(ctx context.Context, remotePath string, data []byte) error {
	client, err := c.session()
	if err != nil {
		return err
	}

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{Op: "write", Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	tmpPath := remotePath + ".reconcilectl.tmp"
	f, err := client.Create(tmpPath)
	if err != nil {
		return &TransportError{Op: "write", Err: fmt.Errorf("failed to create remote file: %w", err), IsTemporary: true}
	}

	if _, err := io.Copy(f, readerWithContext{ctx: ctx, r: bytes.NewReader(data)}); err != nil {
		_ = f.Close()
		_ = client.Remove(tmpPath)
		return &TransportError{Op: "write", Err: fmt.Errorf("failed to copy file: %w", err), IsTemporary: true}
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmpPath)
		return &TransportError{Op: "write", Err: err, IsTemporary: true}
	}

	if c.config.FileMode != 0 {
		if err := client.Chmod(tmpPath, c.config.FileMode); err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
		}
	}

	if err := client.PosixRename(tmpPath, remotePath); err != nil {
		_ = client.Remove(tmpPath)
		return &TransportError{Op: "write", Err: fmt.Errorf("failed to rename into place: %w", err)}
	}

	log.Debug().Str("remote", remotePath).Int("bytes", len(data)).Msg("file uploaded")
	return nil
}

// readerWithContext stops a copy once ctx is done.
type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
var _ Transport = (*Client)(nil)
