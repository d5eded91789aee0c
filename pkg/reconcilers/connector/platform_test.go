package connector

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePlatform is an in-memory connector platform API.
type fakePlatform struct {
	mu sync.Mutex

	sources      map[string]map[string]any
	destinations map[string]map[string]any
	connections  map[string]map[string]any
	operations   map[string]map[string]any
	nextID       int

	calls []string

	// failures makes an endpoint answer with status for the next n calls.
	failures map[string]failure
}

type failure struct {
	status int
	times  int
}

var (
	sourceDefinitions = map[string]string{
		"def-src-file": "File",
		"def-src-pg":   "Postgres",
	}
	destinationDefinitions = map[string]string{
		"def-dst-json": "Local JSON",
		"def-dst-pg":   "Postgres",
	}
)

func newFakePlatform(t *testing.T) (*fakePlatform, *Client) {
	t.Helper()

	p := &fakePlatform{
		sources:      map[string]map[string]any{},
		destinations: map[string]map[string]any{},
		connections:  map[string]map[string]any{},
		operations:   map[string]map[string]any{},
		failures:     map[string]failure{},
	}
	server := httptest.NewServer(http.HandlerFunc(p.serveHTTP))
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		URL:             server.URL,
		InitialInterval: time.Millisecond,
	})
	return p, client
}

func (p *fakePlatform) id(prefix string) string {
	p.nextID++
	return fmt.Sprintf("%s-%d", prefix, p.nextID)
}

func (p *fakePlatform) countCalls(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == endpoint {
			n++
		}
	}
	return n
}

func (p *fakePlatform) mutatingCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if !strings.HasSuffix(c, "/list") && !strings.HasSuffix(c, "/get") && !strings.HasSuffix(c, "/discover_schema") {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakePlatform) addSource(name, definitionID string, config map[string]any) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.id("src")
	p.sources[id] = map[string]any{
		"sourceId":                id,
		"sourceDefinitionId":      definitionID,
		"name":                    name,
		"sourceName":              sourceDefinitions[definitionID],
		"connectionConfiguration": config,
	}
	return id
}

func (p *fakePlatform) serveHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	endpoint := strings.TrimPrefix(r.URL.Path, "/api/v1")
	p.calls = append(p.calls, endpoint)

	if f, ok := p.failures[endpoint]; ok && f.times > 0 {
		f.times--
		p.failures[endpoint] = f
		http.Error(w, "injected failure", f.status)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp any
	switch endpoint {
	case "/workspaces/list":
		resp = map[string]any{"workspaces": []any{map[string]any{"workspaceId": "ws-1"}}}

	case "/source_definitions/list":
		var defs []any
		for id, name := range sourceDefinitions {
			defs = append(defs, map[string]any{"sourceDefinitionId": id, "name": name})
		}
		resp = map[string]any{"sourceDefinitions": defs}

	case "/destination_definitions/list":
		var defs []any
		for id, name := range destinationDefinitions {
			defs = append(defs, map[string]any{"destinationDefinitionId": id, "name": name})
		}
		resp = map[string]any{"destinationDefinitions": defs}

	case "/destination_definition_specifications/get":
		resp = map[string]any{"supportsNormalization": body["destinationDefinitionId"] == "def-dst-pg"}

	case "/sources/list":
		resp = map[string]any{"sources": values(p.sources)}
	case "/sources/create":
		id := p.id("src")
		defID, _ := body["sourceDefinitionId"].(string)
		body["sourceId"] = id
		body["sourceName"] = sourceDefinitions[defID]
		p.sources[id] = body
		resp = body
	case "/sources/update":
		id, _ := body["sourceId"].(string)
		p.sources[id]["connectionConfiguration"] = body["connectionConfiguration"]
		resp = p.sources[id]
	case "/sources/delete":
		delete(p.sources, body["sourceId"].(string))
	case "/sources/discover_schema":
		resp = map[string]any{
			"catalogId": "cat-" + body["sourceId"].(string),
			"catalog": map[string]any{"streams": []any{
				discoveredStream("users"),
				discoveredStream("orders"),
			}},
		}

	case "/destinations/list":
		resp = map[string]any{"destinations": values(p.destinations)}
	case "/destinations/create":
		id := p.id("dst")
		defID, _ := body["destinationDefinitionId"].(string)
		body["destinationId"] = id
		body["destinationName"] = destinationDefinitions[defID]
		p.destinations[id] = body
		resp = body
	case "/destinations/update":
		id, _ := body["destinationId"].(string)
		p.destinations[id]["connectionConfiguration"] = body["connectionConfiguration"]
		resp = p.destinations[id]
	case "/destinations/delete":
		delete(p.destinations, body["destinationId"].(string))

	case "/connections/list":
		resp = map[string]any{"connections": values(p.connections)}
	case "/connections/create":
		id := p.id("conn")
		body["connectionId"] = id
		p.connections[id] = body
		resp = body
	case "/connections/update":
		id, _ := body["connectionId"].(string)
		existing := p.connections[id]
		for k, v := range body {
			existing[k] = v
		}
		resp = existing
	case "/connections/delete":
		delete(p.connections, body["connectionId"].(string))

	case "/operations/list":
		var ops []any
		conn := p.connections[body["connectionId"].(string)]
		if conn != nil {
			ids, _ := conn["operationIds"].([]any)
			for _, id := range ids {
				if op, ok := p.operations[id.(string)]; ok {
					ops = append(ops, op)
				}
			}
		}
		resp = map[string]any{"operations": ops}
	case "/operations/create":
		id := p.id("op")
		body["operationId"] = id
		p.operations[id] = body
		resp = body

	default:
		http.Error(w, "unknown endpoint "+endpoint, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		resp = map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func discoveredStream(name string) map[string]any {
	return map[string]any{
		"stream": map[string]any{
			"name":       name,
			"jsonSchema": map[string]any{"type": "object"},
		},
		"config": map[string]any{
			"syncMode":            "full_refresh",
			"destinationSyncMode": "append",
			"selected":            true,
			"aliasName":           name,
		},
	}
}

func values(m map[string]map[string]any) []any {
	out := make([]any, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
