package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEElementParser decodes the elements of a CUE module.
//
// Elements are declared either as a struct, where each label is the element
// name:
//
//	elements: {
//	    settings: {kind: "file", path: "/etc/app.json", desired: {debug: false}}
//	}
//
// or as a list of elements that carry their own name. Struct fields keep
// declaration order.
type CUEElementParser struct{}

// NewCUEElementParser creates a CUE element parser.
func NewCUEElementParser() *CUEElementParser {
	return &CUEElementParser{}
}

// Parse compiles src and returns its element specs in declaration order.
// Compile and schema errors are returned as ValidationErrors.
func (cp *CUEElementParser) Parse(filename string, src []byte) ([]ElementSpec, error) {
	cctx := cuecontext.New()

	schema, err := compileElementSchema(cctx)
	if err != nil {
		return nil, err
	}

	val := cctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	elements := val.LookupPath(cue.ParsePath("elements"))
	if !elements.Exists() {
		return nil, nil
	}

	var specs []ElementSpec
	switch elements.IncompleteKind() {
	case cue.StructKind:
		iter, err := elements.Fields()
		if err != nil {
			return nil, convertCUEErrors(err)
		}
		for iter.Next() {
			spec, err := cp.decodeElement(schema, iter.Value())
			if err != nil {
				return nil, err
			}
			if spec.Name == "" {
				spec.Name = iter.Selector().Unquoted()
			}
			specs = append(specs, spec)
		}

	case cue.ListKind:
		list, err := elements.List()
		if err != nil {
			return nil, convertCUEErrors(err)
		}
		for list.Next() {
			spec, err := cp.decodeElement(schema, list.Value())
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}

	default:
		return nil, ValidationErrors{{
			File:     filename,
			Path:     "elements",
			Message:  fmt.Sprintf("elements must be a struct or a list, got %s", elements.IncompleteKind()),
			Severity: "error",
		}}
	}

	return specs, nil
}

func (cp *CUEElementParser) decodeElement(schema, val cue.Value) (ElementSpec, error) {
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return ElementSpec{}, convertCUEErrors(err)
	}

	var spec ElementSpec
	if err := unified.Decode(&spec); err != nil {
		return ElementSpec{}, convertCUEErrors(err)
	}
	return spec, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var validationErrors ValidationErrors

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		// Prefer a position in the module over one in the element schema.
		for _, p := range pos {
			file, line, column = p.Filename(), p.Line(), p.Column()
			if file != schemaFilename {
				break
			}
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}
