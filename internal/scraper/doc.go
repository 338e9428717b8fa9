// Package scraper turns BookMyShow listing pages into events.
//
// The Extractor finds event links (paths like /events/<slug>/ET<digits>) in a
// listing page and collects the text lines of the card around each one. The
// Normalizer then derives an event from each fragment: the name from the card
// line matching the link slug (or the slug itself), a date in one of the
// supported layouts, a best-effort time of day, a category from the listing
// vocabulary and the first plausible venue line. Missing fields fall back to
// defaults; only a fragment without any name is dropped.
package scraper
