// Package fetch retrieves listing pages through an ordered chain of strategies.
//
// Each Strategy is a different way of getting the raw HTML of a page: a client
// with a browser TLS fingerprint, an HTTP client that answers anti-bot
// interstitials, a plain client with exponential backoff, and two headless
// browsers. A Chain runs them in priority order and stops at the first page
// that contains enough event links, recording every Attempt along the way.
//
// Failures of individual strategies are never fatal. Only exhausting the chain
// (ErrNoContent) or cancelling the context ends a fetch without content.
package fetch
