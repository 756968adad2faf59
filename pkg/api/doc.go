// Package api wires pkg/committer, pkg/registry, pkg/subscriptions, and
// pkg/textindex into a single Database handle: the Go-level equivalent of
// the four external primitives a transactional document store exposes
// (begin, op, commit, subscribe), plus index creation and search. A gRPC
// surface over this facade is out of this package's scope beyond the
// minimal admin health/reflection endpoint in pkg/api/admin.go — the query
// and mutation wire protocol itself is an external collaborator.
package api
