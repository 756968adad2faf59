// Package document is Flux's core data model: Document, Value, Tablet,
// Timestamp, Revision, and Index definitions. It has no dependency on
// persistence, the registry, or the committer — every other core package
// builds on these types.
package document
