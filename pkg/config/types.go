package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/reconcilectl/pkg/engine"
)

// Format identifies the language a module is written in.
type Format string

const (
	// FormatStarlark modules are scripts that call register().
	FormatStarlark Format = "starlark"

	// FormatCUE modules declare an elements struct or list.
	FormatCUE Format = "cue"

	// FormatYAML modules declare an elements sequence.
	FormatYAML Format = "yaml"
)

// Module is a loaded module: the reconcilers it registered, in order.
type Module struct {
	// Path is the file the module was loaded from.
	Path string `json:"path"`

	// Format is the module language.
	Format Format `json:"format"`

	// Reconcilers are in registration order.
	Reconcilers []engine.Reconciler `json:"-"`
}

// Names returns the reconciler names in registration order.
func (m *Module) Names() []string {
	names := make([]string, len(m.Reconcilers))
	for i, r := range m.Reconcilers {
		names[i] = r.Name()
	}
	return names
}

// Element kinds.
const (
	KindStatic     = "static"
	KindMessage    = "message"
	KindFile       = "file"
	KindRemoteFile = "remote_file"
	KindConnector  = "connector"
)

// ElementSpec is one reconciler declared in a CUE or YAML module. Which
// fields apply depends on Kind.
type ElementSpec struct {
	// Name identifies the reconciler in output and run history.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Kind selects the reconciler type.
	Kind string `json:"kind" yaml:"kind" validate:"required,oneof=static message file remote_file connector"`

	// Desired is the desired document of file and remote_file elements.
	Desired map[string]any `json:"desired,omitempty" yaml:"desired,omitempty"`

	// Path is the local or remote document path.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Format is the document encoding, json or yaml.
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=json yaml yml"`

	Host     string `json:"host,omitempty" yaml:"host,omitempty" validate:"omitempty,hostname_rfc1123|ip"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	Insecure bool   `json:"insecure,omitempty" yaml:"insecure,omitempty"`

	// URL is the connector platform API base URL.
	URL string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`

	// Connections are the managed connector connections.
	Connections []ConnectionSpec `json:"connections,omitempty" yaml:"connections,omitempty" validate:"dive"`

	// DeleteUnmentioned removes remote connectors the element does not
	// mention. Defaults to true.
	DeleteUnmentioned *bool `json:"delete_unmentioned,omitempty" yaml:"delete_unmentioned,omitempty"`

	// Diff and ApplyDiff are static diffs in their JSON form.
	Diff      any `json:"diff,omitempty" yaml:"diff,omitempty"`
	ApplyDiff any `json:"apply_diff,omitempty" yaml:"apply_diff,omitempty"`

	// Message is the text returned by message elements.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// EndpointSpec declares a connector source or destination.
type EndpointSpec struct {
	Name   string         `json:"name" yaml:"name" validate:"required"`
	Type   string         `json:"type" yaml:"type" validate:"required"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ConnectionSpec declares a connector connection between two endpoints.
type ConnectionSpec struct {
	Name        string       `json:"name" yaml:"name" validate:"required"`
	Source      EndpointSpec `json:"source" yaml:"source" validate:"required"`
	Destination EndpointSpec `json:"destination" yaml:"destination" validate:"required"`

	// Streams maps stream names to sync mode names such as FULL_REFRESH_OVERWRITE.
	Streams map[string]string `json:"streams,omitempty" yaml:"streams,omitempty" validate:"dive,keys,required,endkeys,required"`

	// Normalize enables basic normalization. Nil keeps whatever the
	// platform has.
	Normalize *bool `json:"normalize,omitempty" yaml:"normalize,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "elements[1].path").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

func (e ValidationError) String() string {
	var sb strings.Builder
	if e.File != "" {
		sb.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&sb, ":%d:%d", e.Line, e.Column)
		}
		sb.WriteString(": ")
	}
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// ValidationErrors collects every problem found in a module document.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	lines := make([]string, len(v))
	for i, e := range v {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}
