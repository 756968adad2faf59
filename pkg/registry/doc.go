/*
Package registry keeps the in-memory database-index trees that transactions
range over. Built on github.com/google/btree's generic copy-on-write tree:
Apply clones only the trees a commit actually touches, so concurrent readers
holding a Snapshot never pay for, or observe, a write in progress.
*/
package registry
