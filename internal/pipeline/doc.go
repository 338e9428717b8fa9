// Package pipeline runs the per-city scrape.
//
// A run moves through fixed states: fetching, extracting, normalizing,
// merging, classifying and persisting. It ends Done, Aborted when no fetch
// strategy produced usable content, or Failed when nothing could be
// persisted. The stored dataset is loaded once at the start and saved once
// at the end, so an interrupted run leaves storage as it found it.
//
// Cities share no state and RunAll processes them concurrently.
package pipeline
