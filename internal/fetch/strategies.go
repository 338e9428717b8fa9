package fetch

import (
	"fmt"
	"net/http"
	"time"
)

// Strategy names accepted by New, in default priority order
const (
	NameFingerprint = "fingerprint"
	NameChallenge   = "challenge"
	NameRetry       = "retry"
	NameChromedp    = "chromedp"
	NameRod         = "rod"
)

// DefaultOrder is the default strategy priority
var DefaultOrder = []string{NameFingerprint, NameChallenge, NameRetry, NameChromedp, NameRod}

const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
	DefaultReferer        = "https://www.google.com/"
)

// Config holds settings shared by the strategies
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Referer        string

	RetryAttempts  int           // total attempts for the retry strategy
	RetryBaseDelay time.Duration // first backoff delay, doubled each retry

	ChallengeRounds int           // interstitials solved before giving up
	ChallengeDelay  time.Duration // wait when the page does not advertise one

	BrowserSettle time.Duration // wait after load for client-side rendering
	BrowserPath   string        // optional browser binary; auto-detected when empty
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		UserAgent:       DefaultUserAgent,
		AcceptLanguage:  DefaultAcceptLanguage,
		Referer:         DefaultReferer,
		RetryAttempts:   3,
		RetryBaseDelay:  time.Second,
		ChallengeRounds: 2,
		ChallengeDelay:  5 * time.Second,
		BrowserSettle:   2 * time.Second,
	}
}

// DefaultHeaders returns the browser-like header set sent by every strategy
func DefaultHeaders(cfg Config) http.Header {
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	lang := cfg.AcceptLanguage
	if lang == "" {
		lang = DefaultAcceptLanguage
	}
	referer := cfg.Referer
	if referer == "" {
		referer = DefaultReferer
	}

	h := make(http.Header)
	h.Set("User-Agent", ua)
	h.Set("Accept", DefaultAccept)
	h.Set("Accept-Language", lang)
	h.Set("Referer", referer)
	h.Set("DNT", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// New builds strategies from names in the given order.
// Unknown or repeated names are rejected.
func New(names []string, cfg Config) ([]Strategy, error) {
	if len(names) == 0 {
		names = DefaultOrder
	}

	seen := make(map[string]bool, len(names))
	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("strategy %q listed twice", name)
		}
		seen[name] = true

		switch name {
		case NameFingerprint:
			strategies = append(strategies, NewFingerprint())
		case NameChallenge:
			strategies = append(strategies, NewChallenge(cfg.ChallengeRounds, cfg.ChallengeDelay))
		case NameRetry:
			strategies = append(strategies, NewRetry(cfg.RetryAttempts, cfg.RetryBaseDelay))
		case NameChromedp:
			strategies = append(strategies, NewChromedp(cfg.BrowserPath, cfg.BrowserSettle))
		case NameRod:
			strategies = append(strategies, NewRod(cfg.BrowserPath, cfg.BrowserSettle))
		default:
			return nil, fmt.Errorf("unknown fetch strategy: %q", name)
		}
	}
	return strategies, nil
}
