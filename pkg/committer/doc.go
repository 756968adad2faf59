/*
Package committer serializes every commit in the process through one
mutex, running Check (optimistic conflict detection), Append (durable
write), Publish (index registry update), and Notify (subscription
invalidation) in order. CommitWithRetry adds the OCC backoff-and-rebuild
loop a caller needs on top of the single-attempt Commit.
*/
package committer
