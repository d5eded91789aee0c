// Package policy gates apply with Open Policy Agent.
//
// Every enabled policy is a Rego module whose deny set is evaluated against
// the aggregate diff of a check run. The input document is:
//
//	{
//	  "diff":    [{"kind": "delete", "key": "db", "children": [...]}],
//	  "summary": {"added": 0, "deleted": 1, "modified": 0, "total": 1},
//	  "mode":    "apply",
//	  "changes": [{"key": "db.password", "kind": "delete", "old": "..."}]
//	}
//
// changes flattens the diff into one entry per leaf, keyed by the dotted
// path, which is what most policies want to match on.
//
// A deny element is either a message string or an object with message and
// optional severity and key. Error and critical violations deny the apply;
// Engine.Enforce turns them into a permanent POLICY_DENIED engine error.
//
// # Built-in policies
//
//   - no-mass-delete (warning): the diff deletes more keys than the limit
//     set with WithMaxDeletes, 10 by default.
//   - protected-keys (error): a protected key or anything below it is
//     modified or deleted. Enabled by WithProtectedKeys.
//
// # Policy files
//
// Loader reads .rego files and directories of them. A leading comment block
// becomes the description and may set the default severity:
//
//	# severity: error
//	# Replicas may not be removed.
//	package custom.replicas
//
//	import rego.v1
//
//	deny contains msg if {
//	    some change in input.changes
//	    change.key == "replicas"
//	    change.kind == "delete"
//	    msg := "replicas cannot be removed"
//	}
package policy
