package connector

import (
	"context"
	"testing"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
)

func exampleConnections() []*Connection {
	src := &Source{
		Name:   "local-file",
		Type:   "File",
		Config: map[string]any{"url": "https://example.com/users.csv", "format": "csv"},
	}
	dst := &Destination{
		Name:   "local-json",
		Type:   "Local JSON",
		Config: map[string]any{"destination_path": "/local/out"},
	}
	return []*Connection{{
		Name:        "file-to-json",
		Source:      src,
		Destination: dst,
		Streams:     map[string]SyncMode{"users": FullRefreshOverwrite},
	}}
}

func newTestStack(t *testing.T, client *Client, conns []*Connection, deleteUnmentioned bool) *Stack {
	t.Helper()
	stack, err := NewStack("airbyte", client, conns, deleteUnmentioned)
	if err != nil {
		t.Fatalf("NewStack() error = %v", err)
	}
	return stack
}

func TestStack_CheckEmptyPlatform(t *testing.T) {
	platform, client := newFakePlatform(t)
	stack := newTestStack(t, client, exampleConnections(), true)

	got, err := stack.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	want := diff.New().
		WithNested("local-file", diff.New().
			Add("format", "csv").
			Add("url", "https://example.com/users.csv")).
		WithNested("local-json", diff.New().
			Add("destination_path", "/local/out")).
		WithNested("file-to-json", diff.New().
			Add("destination", "local-json").
			Add("source", "local-file").
			WithNested("streams", diff.New().Add("users", "FULL_REFRESH_OVERWRITE")))
	if !got.Diff.Equal(want) {
		t.Errorf("Check() =\n%s\nwant\n%s", got.Diff, want)
	}
	if calls := platform.mutatingCalls(); len(calls) != 0 {
		t.Errorf("Check must not mutate, saw %v", calls)
	}
}

func TestStack_ApplyConverges(t *testing.T) {
	platform, client := newFakePlatform(t)
	stack := newTestStack(t, client, exampleConnections(), true)
	ctx := context.Background()

	checked, err := stack.Check(ctx)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	applied, err := stack.Apply(ctx)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !applied.Diff.Equal(*checked.Diff) {
		t.Errorf("Apply() =\n%s\nwant\n%s", applied.Diff, checked.Diff)
	}

	if len(platform.sources) != 1 || len(platform.destinations) != 1 || len(platform.connections) != 1 {
		t.Fatalf("expected one of each, got %d sources, %d destinations, %d connections",
			len(platform.sources), len(platform.destinations), len(platform.connections))
	}

	for _, conn := range platform.connections {
		streams := conn["syncCatalog"].(map[string]any)["streams"].([]any)
		if len(streams) != 1 {
			t.Fatalf("expected only the configured stream, got %d", len(streams))
		}
		config := streams[0].(map[string]any)["config"].(map[string]any)
		if config["syncMode"] != "full_refresh" || config["destinationSyncMode"] != "overwrite" {
			t.Errorf("unexpected stream config %v", config)
		}
		if config["selected"] != true {
			t.Error("discovered stream settings must be kept")
		}
		if ops := conn["operationIds"].([]any); len(ops) != 0 {
			t.Errorf("destination without normalization support got operations %v", ops)
		}
	}

	again, err := stack.Check(ctx)
	if err != nil {
		t.Fatalf("second Check() error = %v", err)
	}
	if !again.Diff.IsEmpty() {
		t.Errorf("expected no difference after apply, got\n%s", again.Diff)
	}
}

func TestStack_ConfigChangeRecreates(t *testing.T) {
	platform, client := newFakePlatform(t)
	ctx := context.Background()

	if _, err := newTestStack(t, client, exampleConnections(), true).Apply(ctx); err != nil {
		t.Fatalf("initial Apply() error = %v", err)
	}

	changed := exampleConnections()
	changed[0].Source.Config["url"] = "https://example.com/users-v2.csv"
	stack := newTestStack(t, client, changed, true)

	got, err := stack.Check(ctx)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	want := diff.New().WithNested("local-file", diff.New().
		Modify("url", "https://example.com/users.csv", "https://example.com/users-v2.csv"))
	if !got.Diff.Equal(want) {
		t.Errorf("Check() =\n%s\nwant\n%s", got.Diff, want)
	}

	before := map[string]int{
		"/sources/delete":     platform.countCalls("/sources/delete"),
		"/connections/delete": platform.countCalls("/connections/delete"),
		"/sources/create":     platform.countCalls("/sources/create"),
		"/connections/create": platform.countCalls("/connections/create"),
	}
	if _, err := stack.Apply(ctx); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	for endpoint, n := range before {
		if platform.countCalls(endpoint) != n+1 {
			t.Errorf("expected one more call to %s", endpoint)
		}
	}
	if platform.countCalls("/destinations/delete") != 0 {
		t.Error("unchanged destination must not be recreated")
	}

	again, err := stack.Check(ctx)
	if err != nil {
		t.Fatalf("Check() after recreate error = %v", err)
	}
	if !again.Diff.IsEmpty() {
		t.Errorf("expected convergence, got\n%s", again.Diff)
	}
}

func TestStack_Unmentioned(t *testing.T) {
	for _, deleteUnmentioned := range []bool{true, false} {
		t.Run(map[bool]string{true: "delete", false: "ignore"}[deleteUnmentioned], func(t *testing.T) {
			platform, client := newFakePlatform(t)
			platform.addSource("legacy", "def-src-pg", map[string]any{"host": "db.internal"})

			stack := newTestStack(t, client, nil, deleteUnmentioned)
			ctx := context.Background()

			got, err := stack.Check(ctx)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}

			want := diff.New()
			if deleteUnmentioned {
				want = want.WithNested("legacy", diff.New().Delete("host", "db.internal"))
			}
			if !got.Diff.Equal(want) {
				t.Errorf("Check() =\n%s\nwant\n%s", got.Diff, want)
			}

			if _, err := stack.Apply(ctx); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			wantRemaining := 1
			if deleteUnmentioned {
				wantRemaining = 0
			}
			if len(platform.sources) != wantRemaining {
				t.Errorf("remaining sources = %d, want %d", len(platform.sources), wantRemaining)
			}
		})
	}
}

func TestStack_Normalization(t *testing.T) {
	enabled := true

	t.Run("supported destination gets an operation", func(t *testing.T) {
		platform, client := newFakePlatform(t)
		conns := exampleConnections()
		conns[0].Destination = &Destination{Name: "warehouse", Type: "Postgres", Config: map[string]any{"host": "wh"}}

		stack := newTestStack(t, client, conns, true)
		ctx := context.Background()
		if _, err := stack.Apply(ctx); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if len(platform.operations) != 1 {
			t.Fatalf("expected one normalization operation, got %d", len(platform.operations))
		}

		// re-applying reuses the operation
		if _, err := stack.Apply(ctx); err != nil {
			t.Fatalf("second Apply() error = %v", err)
		}
		if len(platform.operations) != 1 {
			t.Errorf("expected the operation to be reused, got %d", len(platform.operations))
		}
	})

	t.Run("explicit normalization on unsupported destination", func(t *testing.T) {
		_, client := newFakePlatform(t)
		conns := exampleConnections()
		conns[0].Normalize = &enabled

		_, err := newTestStack(t, client, conns, true).Apply(context.Background())
		if err == nil {
			t.Fatal("expected error")
		}
		if !engine.IsPermanent(err) {
			t.Errorf("expected permanent error, got %v", err)
		}
	})
}

func TestNewStack_Validation(t *testing.T) {
	conns := exampleConnections()

	dup := append(exampleConnections(), exampleConnections()...)
	if _, err := NewStack("s", nil, dup, true); err == nil {
		t.Error("expected duplicate connection error")
	}

	conflicting := exampleConnections()[0]
	conflicting.Name = "other"
	conflicting.Source = &Source{Name: "local-file", Type: "File", Config: map[string]any{"url": "elsewhere"}}
	if _, err := NewStack("s", nil, append(conns, conflicting), true); err == nil {
		t.Error("expected conflicting source error")
	}

	missing := &Connection{Name: "broken"}
	if _, err := NewStack("s", nil, []*Connection{missing}, true); err == nil {
		t.Error("expected missing source error")
	}
}

func TestConfigureStream(t *testing.T) {
	stream := discoveredStream("users")

	got, err := configureStream(stream, IncrementalAppendDedup)
	if err != nil {
		t.Fatalf("configureStream() error = %v", err)
	}

	config := got["config"].(map[string]any)
	if config["syncMode"] != "incremental" || config["destinationSyncMode"] != "append_dedup" {
		t.Errorf("unexpected config %v", config)
	}
	if config["aliasName"] != "users" || config["selected"] != true {
		t.Errorf("existing config keys lost: %v", config)
	}
	if stream["config"].(map[string]any)["syncMode"] != "full_refresh" {
		t.Error("input stream was modified")
	}
}

func TestSyncModes(t *testing.T) {
	for _, m := range syncModes {
		parsed, err := ParseSyncMode(m.Name)
		if err != nil || parsed != m {
			t.Errorf("ParseSyncMode(%q) = %v, %v", m.Name, parsed, err)
		}
		fromAPI, err := syncModeFromAPI(m.Source, m.Destination)
		if err != nil || fromAPI != m {
			t.Errorf("syncModeFromAPI(%q, %q) = %v, %v", m.Source, m.Destination, fromAPI, err)
		}
	}
	if _, err := ParseSyncMode("SOMETIMES"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
