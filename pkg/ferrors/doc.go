/*
Package ferrors defines the error-kind taxonomy shared across transactions,
the committer, subscriptions, and search: BadRequest, Unauthenticated,
Forbidden, NotFound, OCC, OutOfRetention, Overloaded, RateLimited,
PaginationLimit, LeaseLost, Internal. Every core package returns
*ferrors.Error instead of ad hoc errors so the commit orchestrator, the
gRPC health surface, and callers can make retry/fatal decisions on Kind
alone, and so public-facing messages can be redacted uniformly at the
boundary.
*/
package ferrors
