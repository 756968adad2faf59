/*
Package txn is the transaction handle callers mutate through: Get, Insert,
Replace, Patch, Delete, and Range, all served from a fixed snapshot plus an
in-memory write buffer. IntoToken hands the accumulated read/write sets to
the committer; the Transaction itself never touches the log or the
registry directly.
*/
package txn
