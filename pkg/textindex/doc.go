// Package textindex implements full-text search over document fields: an
// in-memory BM25 index for documents written since the last flush, a
// roaring-bitmap-backed on-disk segment format for flushed history, and a
// Searcher that merges the two so a query always sees every live document
// exactly once.
package textindex
