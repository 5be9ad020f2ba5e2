// Package engine provides the shared types of the conform import pipeline.
//
// # Overview
//
// conform keeps the import settings of resources in line with the profiles
// that own them. A resource is addressed by its slash-separated path and
// carries importer settings exposed as a property tree, plus a free-form
// annotation string in which the pipeline embeds its side channel record.
//
// The package defines:
//
//   - Resource: metadata of one resource (path, importer type, size,
//     asset bundle and labels)
//   - ResourceAccessor: the contract a host implements so the pipeline can
//     read and commit settings, read and write annotations, and reimport
//     resources inside batch brackets
//   - EngineError: a classified error with resource and operation context
//
// # Error Handling
//
// Errors are classified for recovery logic:
//
//   - SchemaMismatch: template and target disagree on a field kind
//   - WriteFailure: a patch or settings write did not commit
//   - CorruptSideChannel: the annotation record cannot be located or decoded
//   - UnresolvableCallback: a stored callback reference matches nothing
//   - FilterParse: a filter pattern cannot be interpreted
//   - Permanent: invalid configuration, missing resources
//
// Every class except Permanent is recoverable: the pipeline logs it and
// continues with the remaining tasks and resources.
//
// # Hosts
//
// The SQLite store in package stores is the production accessor; package
// enginetest provides an in-memory accessor for tests.
package engine
