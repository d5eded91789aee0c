// Package ssh provides the SSH/SFTP transport used to read and write files
// on remote hosts.
package ssh

import (
	"context"
	"errors"
)

// Transport reads and writes whole files on a remote host.
type Transport interface {
	// Connect establishes the SSH connection and opens an SFTP session.
	Connect(ctx context.Context) error

	// Close releases the SFTP session and the SSH connection.
	Close() error

	// ReadFile returns the contents of path. A missing file yields an error
	// matching ErrNotExist.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the contents of path, creating parent directories.
	WriteFile(ctx context.Context, path string, data []byte) error
}

// ErrNotExist is returned by ReadFile when the remote file does not exist.
var ErrNotExist = errors.New("remote file does not exist")

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "read", "write")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
