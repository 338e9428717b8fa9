// Package event provides the canonical event record for city event listings.
//
// The event package handles event representation, deterministic identification,
// calendar date parsing, lifecycle status classification, and keep-first merging of
// freshly scraped batches into a previously persisted dataset. Each event is assigned
// a SHA1-based ID generated from its normalized name, date, venue, and city, enabling
// reliable tracking across runs even when incidental page text drifts.
package event
