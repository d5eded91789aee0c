package policy

// Built-in policy names.
const (
	NoMassDeletePolicy  = "no-mass-delete"
	ProtectedKeysPolicy = "protected-keys"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		noMassDeletePolicy(),
		protectedKeysPolicy(),
	}
}

// noMassDeletePolicy warns when a diff deletes more keys than
// data.reconcilectl.settings.max_deletes.
func noMassDeletePolicy() Policy {
	return Policy{
		Name:        NoMassDeletePolicy,
		Description: "Warns when a diff deletes more keys than the configured limit",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package reconcilectl.policies.mass_delete

import rego.v1

default max_deletes := 10

max_deletes := data.reconcilectl.settings.max_deletes

deny contains violation if {
	input.summary.deleted > max_deletes
	violation := {
		"message": sprintf("diff deletes %d keys, more than the limit of %d", [input.summary.deleted, max_deletes]),
		"severity": "warning",
	}
}`,
	}
}

// protectedKeysPolicy denies modifying or deleting a protected key or
// anything below it. It is disabled until protected keys are configured.
func protectedKeysPolicy() Policy {
	return Policy{
		Name:        ProtectedKeysPolicy,
		Description: "Denies modifying or deleting protected keys",
		Severity:    SeverityError,
		Enabled:     false,
		Tags:        []string{"safety"},
		Rego: `package reconcilectl.policies.protected_keys

import rego.v1

protected contains key if {
	some key in data.reconcilectl.settings.protected_keys
}

covers(key, path) if key == path

covers(key, path) if startswith(path, concat("", [key, "."]))

deny contains violation if {
	some change in input.changes
	change.kind != "add"
	some key in protected
	covers(key, change.key)
	violation := {
		"message": sprintf("%s of protected key %s", [change.kind, change.key]),
		"severity": "error",
		"key": change.key,
	}
}`,
	}
}
