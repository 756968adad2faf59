// Package security issues the self-signed TLS identity the admin gRPC
// surface serves and encrypts small secrets (an admin bearer token) at
// rest, the way a single-process deployment needs rather than the
// multi-node mutual-TLS CA a cluster of peers would.
package security
