// Package cli implements the command-line interface for city-events.
//
// The cli package provides the Cobra-based CLI: run scrapes cities through the
// pipeline, list and export read stored datasets back with filtering and sorting,
// cities prints the configured city table and schedule drives cron jobs while
// serving Prometheus metrics. Output is text or JSON; run signals new events
// through its exit code.
package cli
