// Package config loads reconciliation modules.
//
// A module is a single file that declares reconcilers. Its language follows
// from the file extension:
//
//   - .star, .sky: a Starlark script that calls register()
//   - .cue: a CUE document with an elements struct or list
//   - .yaml, .yml: a YAML document with an elements sequence
//
// Reconcilers keep the order in which they are registered or declared, and
// the driver invokes them in that order.
//
// # Starlark modules
//
// Scripts build reconcilers with builtins and hand them to register():
//
//	settings = {"listen": "0.0.0.0:8080", "workers": 4}
//	register(file_reconciler("app", "/etc/app/config.json", settings))
//
//	d = diff().add("replicas", 3)
//	register(static_reconciler("fixture", d))
//
//	src = connector_source("files", "File", {"url": "https://example.com/data.csv"})
//	dst = connector_destination("local", "Local JSON", {"destination_path": "/local/out"})
//	register(connector_stack("pipelines", "http://localhost:8000", [
//	    connector_connection("files-to-local", src, dst, {"data": "FULL_REFRESH_OVERWRITE"}),
//	]))
//
// Evaluation is bounded by a timeout (30 seconds by default), print output
// is discarded and load() is not available.
//
// # Declarative modules
//
// CUE and YAML modules decode into ElementSpec values, which are checked
// with go-playground/validator and built by an ElementFactory. CUE elements
// are also unified with a closed schema first, so errors point at the
// offending line.
//
//	elements: {
//	    app: {
//	        kind: "file"
//	        path: "/etc/app/config.json"
//	        desired: {listen: "0.0.0.0:8080", workers: 4}
//	    }
//	}
//
// # Errors
//
// Loader.Load wraps every failure in an engine module load error. Document
// problems are reported as ValidationErrors with file, line and field path
// when known.
//
// # Watching
//
// Watcher signals when the module file changes so that check --watch can
// run again.
package config
