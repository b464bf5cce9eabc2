// Package pagination presents a single, stable, page-able view of CRM
// resources whose true pagination cursors live upstream.
//
// The Aggregator executes the fetch strategy for a list query: exactly
// one upstream page for normal requests, or a sequential fetch-all loop
// that unions every page when the caller asked for fetch=all. The loop
// stops on the first completion signal the upstream provides (empty
// page, short page, missing next link) and is additionally bounded by a
// configurable page cap so it terminates even against a misbehaving
// upstream. Upstream failures abort the whole aggregation; partial
// results are never returned, because callers could not tell them apart
// from a complete fetch-all.
//
// BuildLinks reconstructs self/next/prev navigation for the gateway's
// own URI space. Upstream link URIs are only ever mined for their page
// number; clients never see a CRM URL.
package pagination
