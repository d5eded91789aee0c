package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

const schemaFilename = "element_schema.cue"

// elementSchema constrains CUE element documents before they are decoded.
// Definitions are closed, so misspelled fields are reported with their
// position in the module.
const elementSchema = `
#Entry: {
	kind:      "add" | "delete" | "modify" | "nested"
	key:       string
	old?:      _
	new?:      _
	children?: [...#Entry]
}

#Endpoint: {
	name:    string & !=""
	type:    string & !=""
	config?: {...}
}

#Connection: {
	name:        string & !=""
	source:      #Endpoint
	destination: #Endpoint
	streams?: [string]: "FULL_REFRESH_APPEND" | "FULL_REFRESH_OVERWRITE" | "INCREMENTAL_APPEND" | "INCREMENTAL_OVERWRITE" | "INCREMENTAL_APPEND_DEDUP"
	normalize?: bool
}

#Element: {
	name?:               string & !=""
	kind:                "static" | "message" | "file" | "remote_file" | "connector"
	desired?:            {...}
	path?:               string
	format?:             "json" | "yaml" | "yml"
	host?:               string
	user?:               string
	port?:               int & >0 & <65536
	key_file?:           string
	insecure?:           bool
	url?:                string
	connections?:        [...#Connection]
	delete_unmentioned?: bool
	diff?:               [...#Entry]
	apply_diff?:         [...#Entry]
	message?:            string
}
`

// compileElementSchema compiles the element schema in cctx. Values can only
// be unified with values of the same context.
func compileElementSchema(cctx *cue.Context) (cue.Value, error) {
	val := cctx.CompileString(elementSchema, cue.Filename(schemaFilename))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile element schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Element"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("element schema has no #Element: %w", err)
	}
	return def, nil
}
