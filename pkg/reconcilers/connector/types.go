package connector

import (
	"fmt"
	"sort"

	"github.com/openfroyo/reconcilectl/pkg/diff"
)

// SyncMode pairs a source sync mode with a destination sync mode.
type SyncMode struct {
	Name        string
	Source      string
	Destination string
}

// Supported sync modes.
var (
	FullRefreshAppend      = SyncMode{"FULL_REFRESH_APPEND", "full_refresh", "append"}
	FullRefreshOverwrite   = SyncMode{"FULL_REFRESH_OVERWRITE", "full_refresh", "overwrite"}
	IncrementalAppend      = SyncMode{"INCREMENTAL_APPEND", "incremental", "append"}
	IncrementalOverwrite   = SyncMode{"INCREMENTAL_OVERWRITE", "incremental", "overwrite"}
	IncrementalAppendDedup = SyncMode{"INCREMENTAL_APPEND_DEDUP", "incremental", "append_dedup"}
)

var syncModes = []SyncMode{
	FullRefreshAppend,
	FullRefreshOverwrite,
	IncrementalAppend,
	IncrementalOverwrite,
	IncrementalAppendDedup,
}

// ParseSyncMode looks a sync mode up by name, e.g. "INCREMENTAL_APPEND".
func ParseSyncMode(name string) (SyncMode, error) {
	for _, m := range syncModes {
		if m.Name == name {
			return m, nil
		}
	}
	return SyncMode{}, fmt.Errorf("unknown sync mode %q", name)
}

func syncModeFromAPI(source, destination string) (SyncMode, error) {
	for _, m := range syncModes {
		if m.Source == source && m.Destination == destination {
			return m, nil
		}
	}
	return SyncMode{}, fmt.Errorf("unknown sync mode pair (%s, %s)", source, destination)
}

// Source is a configured connector source.
type Source struct {
	Name   string
	Type   string
	Config map[string]any
}

// MustBeRecreated reports whether other cannot be updated in place to match s.
func (s *Source) MustBeRecreated(other *Source) bool {
	return other == nil || s.Name != other.Name || !diff.Compare(s.Config, other.Config).IsEmpty()
}

// Destination is a configured connector destination.
type Destination struct {
	Name   string
	Type   string
	Config map[string]any
}

// MustBeRecreated reports whether other cannot be updated in place to match d.
func (d *Destination) MustBeRecreated(other *Destination) bool {
	return other == nil || d.Name != other.Name || !diff.Compare(d.Config, other.Config).IsEmpty()
}

// Connection syncs the selected streams of a source into a destination.
// A nil Normalize enables basic normalization when the destination supports it.
type Connection struct {
	Name        string
	Source      *Source
	Destination *Destination
	Streams     map[string]SyncMode
	Normalize   *bool
}

// MustBeRecreated reports whether the remote connection other has to be
// deleted and created again.
func (c *Connection) MustBeRecreated(other *Connection) bool {
	return other == nil ||
		c.Source.MustBeRecreated(other.Source) ||
		c.Destination.MustBeRecreated(other.Destination)
}

// toMap is the shape compared in diffs.
func (c *Connection) toMap() map[string]any {
	streams := make(map[string]any, len(c.Streams))
	for name, mode := range c.Streams {
		streams[name] = mode.Name
	}

	m := map[string]any{
		"source":      "Unknown",
		"destination": "Unknown",
		"streams":     streams,
	}
	if c.Source != nil {
		m["source"] = c.Source.Name
	}
	if c.Destination != nil {
		m["destination"] = c.Destination.Name
	}
	if c.Normalize != nil {
		m["normalize data"] = *c.Normalize
	}
	return m
}

type remoteSource struct {
	source       *Source
	id           string
	definitionID string
}

type remoteDestination struct {
	destination  *Destination
	id           string
	definitionID string
}

type remoteConnection struct {
	connection *Connection
	id         string
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// sortedNames returns the sorted union of the given name lists.
func sortedNames(lists ...[]string) []string {
	seen := map[string]bool{}
	var names []string
	for _, list := range lists {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
