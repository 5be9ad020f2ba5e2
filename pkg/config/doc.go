// Package config loads the application configuration of the conform CLI.
//
// The configuration is a YAML document, conform.yaml by default:
//
//	database:
//	  path: .conform/resources.db
//	profile_dirs: [profiles]
//	callback_dirs: [scripts]
//	policy_dirs: [policies]
//	strict: false
//	watch:
//	  debounce: 500ms
//	telemetry:
//	  logging:
//	    level: info
//
// Relative directories are resolved against the directory holding the
// configuration file. Missing keys keep the values of Default.
package config
