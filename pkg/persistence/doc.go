/*
Package persistence is the durable commit log underlying every read and
write in Flux. A single Persistence implementation is chosen per process
(BoltPersistence in production, MemPersistence in tests) and every other
package depends only on the Persistence interface, never on bbolt
directly.
*/
package persistence
