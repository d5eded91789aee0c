package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// yamlModule is the top level of a YAML module.
type yamlModule struct {
	Elements []ElementSpec `yaml:"elements"`
}

// YAMLElementParser decodes the elements sequence of a YAML module.
//
//	elements:
//	  - name: settings
//	    kind: file
//	    path: /etc/app.json
//	    desired: {debug: false}
type YAMLElementParser struct{}

// NewYAMLElementParser creates a YAML element parser.
func NewYAMLElementParser() *YAMLElementParser {
	return &YAMLElementParser{}
}

// Parse returns the element specs of src in sequence order. Unknown fields
// are rejected.
func (yp *YAMLElementParser) Parse(filename string, src []byte) ([]ElementSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)

	var doc yamlModule
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			errs := make(ValidationErrors, 0, len(typeErr.Errors))
			for _, msg := range typeErr.Errors {
				errs = append(errs, ValidationError{File: filename, Message: msg, Severity: "error"})
			}
			return nil, errs
		}
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return doc.Elements, nil
}
