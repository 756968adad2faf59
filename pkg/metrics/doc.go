/*
Package metrics exposes Flux's Prometheus collectors: package-level
collectors registered once in init(), a ticker-driven Collector that
samples a small polling interface, and an http.Handler for the scrape
endpoint.
*/
package metrics
