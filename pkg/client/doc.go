// Package client wraps a gRPC connection to Database's admin surface for
// CLI usage: connect, check health, watch for a status change, close.
package client
