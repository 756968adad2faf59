// Package health tracks process liveness: a small set of Checkers (lease
// validity, downstream dependency reachability) feeding a Status that
// applies hysteresis so a single transient failure doesn't flip the
// reported state. pkg/api/admin.go drives its gRPC health service from a
// Status built here.
package health
