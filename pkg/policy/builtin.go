package policy

// BuiltinPolicies returns the policies every engine starts with. They only
// warn; enforcing rules come from policy directories.
func BuiltinPolicies() []Policy {
	return []Policy{
		profileNamingPolicy(),
		unscopedAutomaticPolicy(),
		unselectedCallbackPolicy(),
	}
}

// profileNamingPolicy keeps profile names usable as CLI arguments.
func profileNamingPolicy() Policy {
	return Policy{
		Name:        "profile-naming",
		Description: "Profile names are lowercase letters, digits, hyphens and underscores",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package conform.profiles.naming

import rego.v1

deny contains violation if {
	name := input.profile.name
	not regex.match("^[a-z0-9][a-z0-9_-]*$", name)
	violation := {
		"message": sprintf("profile name '%s' should be lowercase and contain only letters, digits, hyphens and underscores", [name]),
		"severity": "warning",
	}
}`,
	}
}

// unscopedAutomaticPolicy flags automatic profiles that touch every
// resource in the tree.
func unscopedAutomaticPolicy() Policy {
	return Policy{
		Name:        "unscoped-automatic",
		Description: "Automatic profiles should be limited by directory or filters",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package conform.profiles.scope

import rego.v1

deny contains violation if {
	p := input.profile
	p.run_on_import
	not p.restrict_to_own_directory
	count(object.get(p, "filters", [])) == 0
	violation := {
		"message": sprintf("profile '%s' runs on import for every resource", [p.name]),
		"severity": "warning",
	}
}`,
	}
}

// unselectedCallbackPolicy flags method tasks without a callback.
func unselectedCallbackPolicy() Policy {
	return Policy{
		Name:        "unselected-callback",
		Description: "Method tasks should name a callback",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package conform.profiles.callbacks

import rego.v1

deny contains violation if {
	some t in input.profile.tasks
	t.type in {"preprocessor", "postprocessor"}
	object.get(t, "method", "") == ""
	violation := {
		"message": sprintf("task '%s' has no callback selected", [t.name]),
		"severity": "warning",
	}
}`,
	}
}
