// Package policy gates profiles with Open Policy Agent (OPA) Rego policies.
//
// Every policy is a Rego module whose package defines a "deny" set. Each
// member is either a message string or an object with "message" and
// optional "severity" keys:
//
//	package conform.profiles.scope
//
//	import rego.v1
//
//	deny contains msg if {
//		input.profile.run_on_import
//		not input.profile.restrict_to_own_directory
//		msg := "automatic profiles must stay in their directory"
//	}
//
// The input document is {"profile": <profile spec>, "path": <file>,
// "operation": <operation>}. Violations of severity "error" or "critical"
// reject the profile; lower severities are logged.
//
// Engine implements profile.Gate, so a profile registry refuses to activate
// profiles that violate an enforcing policy.
package policy
