package reconcilers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/transports/ssh"
)

// memTransport is an in-memory ssh.Transport.
type memTransport struct {
	files      map[string][]byte
	connectErr error
	readErr    error
	connects   int
	closes     int
}

func newMemTransport() *memTransport {
	return &memTransport{files: map[string][]byte{}}
}

func (m *memTransport) Connect(ctx context.Context) error {
	m.connects++
	return m.connectErr
}

func (m *memTransport) Close() error {
	m.closes++
	return nil
}

func (m *memTransport) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ssh.ErrNotExist)
	}
	return data, nil
}

func (m *memTransport) WriteFile(ctx context.Context, path string, data []byte) error {
	m.files[path] = data
	return nil
}

func TestRemoteFile_ApplyConverges(t *testing.T) {
	transport := newMemTransport()
	desired := map[string]any{"listen": "0.0.0.0:8080", "workers": 4}

	r, err := NewRemoteFile("app", "web-1", "/etc/app/config.json", FormatJSON, desired, transport)
	if err != nil {
		t.Fatalf("NewRemoteFile() error = %v", err)
	}
	ctx := context.Background()

	checked, err := r.Check(ctx)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !checked.Diff.Equal(diff.New().Add("listen", "0.0.0.0:8080").Add("workers", 4)) {
		t.Errorf("unexpected check diff:\n%s", checked.Diff)
	}
	if len(transport.files) != 0 {
		t.Error("Check must not write")
	}

	if _, err := r.Apply(ctx); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, ok := transport.files["/etc/app/config.json"]; !ok {
		t.Fatal("expected remote file to be written")
	}

	again, err := r.Check(ctx)
	if err != nil {
		t.Fatalf("second Check() error = %v", err)
	}
	if !again.Diff.IsEmpty() {
		t.Errorf("expected convergence, got\n%s", again.Diff)
	}
	if transport.connects != 3 || transport.closes != 3 {
		t.Errorf("connects=%d closes=%d, want 3 each", transport.connects, transport.closes)
	}
}

func TestRemoteFile_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*memTransport)
		transient bool
	}{
		{
			name: "temporary connect failure",
			setup: func(m *memTransport) {
				m.connectErr = &ssh.TransportError{Op: "connect", Err: errors.New("refused"), IsTemporary: true}
			},
			transient: true,
		},
		{
			name: "auth failure",
			setup: func(m *memTransport) {
				m.connectErr = &ssh.TransportError{Op: "connect", Err: errors.New("denied"), IsAuthError: true}
			},
		},
		{
			name: "read failure",
			setup: func(m *memTransport) {
				m.readErr = errors.New("permission denied")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newMemTransport()
			tt.setup(transport)

			r, err := NewRemoteFile("app", "web-1", "/etc/app.json", FormatJSON, map[string]any{"a": 1}, transport)
			if err != nil {
				t.Fatalf("NewRemoteFile() error = %v", err)
			}
			_, err = r.Check(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if engine.IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v (%v)", engine.IsTransient(err), tt.transient, err)
			}
			if !tt.transient && !engine.IsPermanent(err) {
				t.Errorf("expected permanent error, got %v", err)
			}
		})
	}
}
