// Package reconcilers provides the built-in engine.Reconciler implementations.
//
// Static and Message return fixed results and are mostly useful in modules
// that describe a diff directly. File and RemoteFile keep a JSON or YAML
// document in sync with a desired map, locally or over SSH.
package reconcilers
