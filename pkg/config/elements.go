package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/reconcilers"
	"github.com/openfroyo/reconcilectl/pkg/reconcilers/connector"
	"github.com/openfroyo/reconcilectl/pkg/transports/ssh"
)

// kindFields lists the fields each element kind cannot do without.
var kindFields = map[string][]string{
	KindMessage:    {"Message"},
	KindFile:       {"Path", "Desired"},
	KindRemoteFile: {"Host", "User", "Path", "Desired"},
	KindConnector:  {"URL"},
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateElementKind, ElementSpec{})
	return v
}

func validateElementKind(sl validator.StructLevel) {
	spec := sl.Current().Interface().(ElementSpec)
	for _, field := range kindFields[spec.Kind] {
		value := sl.Current().FieldByName(field)
		if value.IsZero() {
			tagName := field
			if f, ok := sl.Current().Type().FieldByName(field); ok {
				tagName = strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			}
			sl.ReportError(value.Interface(), tagName, field, "required_for_kind", spec.Kind)
		}
	}
}

// validateElements checks every spec and the uniqueness of their names.
func validateElements(v *validator.Validate, file string, specs []ElementSpec) error {
	var errs ValidationErrors
	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		prefix := fmt.Sprintf("elements[%d]", i)
		fieldErrs, err := validateElement(v, file, prefix, spec)
		if err != nil {
			return err
		}
		errs = append(errs, fieldErrs...)

		if spec.Name == "" {
			continue
		}
		if first, ok := seen[spec.Name]; ok {
			errs = append(errs, ValidationError{
				File:     file,
				Path:     prefix + ".name",
				Message:  fmt.Sprintf("duplicate element name %q (first declared at elements[%d])", spec.Name, first),
				Severity: "error",
			})
			continue
		}
		seen[spec.Name] = i
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateElement(v *validator.Validate, file, prefix string, spec ElementSpec) (ValidationErrors, error) {
	err := v.Struct(spec)
	if err == nil {
		return nil, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, err
	}
	errs := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, ValidationError{
			File:     file,
			Path:     prefix + strings.TrimPrefix(fe.Namespace(), "ElementSpec"),
			Message:  fieldErrorMessage(fe),
			Severity: "error",
		})
	}
	return errs, nil
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_for_kind":
		return fmt.Sprintf("is required for kind %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s validation", fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// TransportFactory opens the transport used by a remote_file element.
type TransportFactory func(spec ElementSpec) (ssh.Transport, error)

// ConnectorClientFactory creates the API client of a connector element.
type ConnectorClientFactory func(url string) *connector.Client

// ElementFactory turns element specs into reconcilers.
type ElementFactory struct {
	validate     *validator.Validate
	newTransport TransportFactory
	newClient    ConnectorClientFactory
}

// ElementFactoryOption configures an ElementFactory.
type ElementFactoryOption func(*ElementFactory)

// WithTransportFactory overrides how remote_file transports are created.
func WithTransportFactory(fn TransportFactory) ElementFactoryOption {
	return func(f *ElementFactory) {
		f.newTransport = fn
	}
}

// WithConnectorClientFactory overrides how connector clients are created.
func WithConnectorClientFactory(fn ConnectorClientFactory) ElementFactoryOption {
	return func(f *ElementFactory) {
		f.newClient = fn
	}
}

// NewElementFactory creates a factory that dials SSH for remote files and
// talks HTTP to connector platforms.
func NewElementFactory(opts ...ElementFactoryOption) *ElementFactory {
	f := &ElementFactory{
		validate:     newValidator(),
		newTransport: sshTransport,
		newClient: func(url string) *connector.Client {
			return connector.NewClient(connector.ClientConfig{URL: url})
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Validate checks specs without building anything. Problems are returned
// as ValidationErrors.
func (f *ElementFactory) Validate(file string, specs []ElementSpec) error {
	return validateElements(f.validate, file, specs)
}

// BuildAll validates specs and builds their reconcilers in order.
func (f *ElementFactory) BuildAll(file string, specs []ElementSpec) ([]engine.Reconciler, error) {
	if err := f.Validate(file, specs); err != nil {
		return nil, err
	}
	out := make([]engine.Reconciler, 0, len(specs))
	for _, spec := range specs {
		r, err := f.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", spec.Name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// buildChecked validates a single spec, reporting field paths under prefix,
// and builds it.
func (f *ElementFactory) buildChecked(prefix string, spec ElementSpec) (engine.Reconciler, error) {
	errs, err := validateElement(f.validate, "", prefix, spec)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return f.Build(spec)
}

// Build creates the reconciler for a single spec.
func (f *ElementFactory) Build(spec ElementSpec) (engine.Reconciler, error) {
	switch spec.Kind {
	case KindStatic:
		checkDiff, err := decodeDiff(spec.Diff)
		if err != nil {
			return nil, fmt.Errorf("invalid diff: %w", err)
		}
		var applyDiff *diff.Diff
		if spec.ApplyDiff != nil {
			d, err := decodeDiff(spec.ApplyDiff)
			if err != nil {
				return nil, fmt.Errorf("invalid apply_diff: %w", err)
			}
			applyDiff = &d
		}
		return reconcilers.NewStatic(spec.Name, checkDiff, applyDiff), nil

	case KindMessage:
		return reconcilers.NewMessage(spec.Name, spec.Message), nil

	case KindFile:
		format, err := reconcilers.ParseFormat(spec.Format)
		if err != nil {
			return nil, err
		}
		return reconcilers.NewFile(spec.Name, spec.Path, format, spec.Desired)

	case KindRemoteFile:
		format, err := reconcilers.ParseFormat(spec.Format)
		if err != nil {
			return nil, err
		}
		transport, err := f.newTransport(spec)
		if err != nil {
			return nil, err
		}
		return reconcilers.NewRemoteFile(spec.Name, spec.Host, spec.Path, format, spec.Desired, transport)

	case KindConnector:
		connections, err := buildConnections(spec.Connections)
		if err != nil {
			return nil, err
		}
		deleteUnmentioned := true
		if spec.DeleteUnmentioned != nil {
			deleteUnmentioned = *spec.DeleteUnmentioned
		}
		return connector.NewStack(spec.Name, f.newClient(spec.URL), connections, deleteUnmentioned)

	default:
		return nil, fmt.Errorf("unknown element kind %q", spec.Kind)
	}
}

func sshTransport(spec ElementSpec) (ssh.Transport, error) {
	cfg := ssh.DefaultConfig(spec.Host, spec.User)
	if spec.Port != 0 {
		cfg.Port = spec.Port
	}
	if spec.KeyFile != "" {
		cfg.PrivateKeyPath = spec.KeyFile
	}
	cfg.StrictHostKeyChecking = !spec.Insecure
	return ssh.NewClient(cfg)
}

func buildConnections(specs []ConnectionSpec) ([]*connector.Connection, error) {
	out := make([]*connector.Connection, 0, len(specs))
	for _, cs := range specs {
		streams := make(map[string]connector.SyncMode, len(cs.Streams))
		for stream, modeName := range cs.Streams {
			mode, err := connector.ParseSyncMode(modeName)
			if err != nil {
				return nil, fmt.Errorf("connection %s stream %s: %w", cs.Name, stream, err)
			}
			streams[stream] = mode
		}

		out = append(out, &connector.Connection{
			Name: cs.Name,
			Source: &connector.Source{
				Name:   cs.Source.Name,
				Type:   cs.Source.Type,
				Config: orEmpty(cs.Source.Config),
			},
			Destination: &connector.Destination{
				Name:   cs.Destination.Name,
				Type:   cs.Destination.Type,
				Config: orEmpty(cs.Destination.Config),
			},
			Streams:   streams,
			Normalize: cs.Normalize,
		})
	}
	return out, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// decodeDiff reads a diff in its JSON form from a decoded document value.
func decodeDiff(raw any) (diff.Diff, error) {
	if raw == nil {
		return diff.New(), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return diff.Diff{}, err
	}
	var d diff.Diff
	if err := json.Unmarshal(data, &d); err != nil {
		return diff.Diff{}, err
	}
	return d, nil
}
