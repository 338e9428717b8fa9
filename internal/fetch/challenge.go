package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
)

// maxChallengeDelay caps the wait a page can ask for
const maxChallengeDelay = 30 * time.Second

// challengeMarkers identify anti-bot interstitial pages
var challengeMarkers = []string{
	"challenge-form",
	"cf-chl",
	"jschl",
	"just a moment",
	"checking your browser",
	"ddos protection",
}

var refreshDelayPattern = regexp.MustCompile(`^\s*(\d+)`)

// Challenge fetches through anti-bot interstitials. It keeps cookies across
// requests, waits the delay a challenge page advertises, submits its form and
// asks for the original page again.
type Challenge struct {
	rounds       int
	defaultDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewChallenge creates the challenge strategy. rounds bounds how many
// interstitials are answered per fetch.
func NewChallenge(rounds int, defaultDelay time.Duration) *Challenge {
	if rounds < 0 {
		rounds = 0
	}
	return &Challenge{
		rounds:       rounds,
		defaultDelay: defaultDelay,
		sleep:        sleepContext,
	}
}

func (c *Challenge) Name() string { return NameChallenge }

func (c *Challenge) Fetch(ctx context.Context, req Request) ([]byte, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar}

	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	for round := 0; ; round++ {
		resp, body, err := do(ctx, client, http.MethodGet, target.String(), nil, req.Header)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return body, nil
		}
		if !isChallenge(resp.StatusCode, body) {
			return nil, &StatusError{Code: resp.StatusCode}
		}
		if round >= c.rounds {
			return nil, fmt.Errorf("challenge not cleared after %d rounds: %w", c.rounds, &StatusError{Code: resp.StatusCode})
		}

		if err := c.sleep(ctx, c.delay(resp, body)); err != nil {
			return nil, err
		}
		if err := c.answer(ctx, client, target, body, req.Header); err != nil {
			return nil, err
		}
	}
}

// answer submits the challenge form, if the page has one. Cookies set by the
// response land in the client's jar for the next request.
func (c *Challenge) answer(ctx context.Context, client *http.Client, page *url.URL, body []byte, header http.Header) error {
	form, ok := parseChallengeForm(page, body)
	if !ok {
		return nil
	}

	hdr := header.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	hdr.Set("Referer", page.String())

	var err error
	if form.method == http.MethodPost {
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
		_, _, err = do(ctx, client, http.MethodPost, form.action, strings.NewReader(form.values.Encode()), hdr)
	} else {
		action, parseErr := url.Parse(form.action)
		if parseErr != nil {
			return fmt.Errorf("parsing challenge action: %w", parseErr)
		}
		action.RawQuery = form.values.Encode()
		_, _, err = do(ctx, client, http.MethodGet, action.String(), nil, hdr)
	}
	if err != nil {
		return fmt.Errorf("submitting challenge: %w", err)
	}
	return nil
}

// delay reads the wait a challenge page asks for: Retry-After, then a meta
// refresh, then the configured default.
func (c *Challenge) delay(resp *http.Response, body []byte) time.Duration {
	d := c.defaultDelay
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs >= 0 {
		d = time.Duration(secs) * time.Second
	} else if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		if content, ok := doc.Find(`meta[http-equiv="refresh"]`).Attr("content"); ok {
			if m := refreshDelayPattern.FindStringSubmatch(content); m != nil {
				secs, _ := strconv.Atoi(m[1])
				d = time.Duration(secs) * time.Second
			}
		}
	}
	if d > maxChallengeDelay {
		d = maxChallengeDelay
	}
	return d
}

type challengeForm struct {
	action string
	method string
	values url.Values
}

func parseChallengeForm(page *url.URL, body []byte) (challengeForm, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return challengeForm{}, false
	}

	sel := doc.Find("form#challenge-form").First()
	if sel.Length() == 0 {
		sel = doc.Find("form").First()
	}
	if sel.Length() == 0 {
		return challengeForm{}, false
	}

	action := page
	if href, ok := sel.Attr("action"); ok && strings.TrimSpace(href) != "" {
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return challengeForm{}, false
		}
		action = page.ResolveReference(ref)
	}

	method := http.MethodGet
	if m, ok := sel.Attr("method"); ok && strings.EqualFold(m, http.MethodPost) {
		method = http.MethodPost
	}

	values := make(url.Values)
	sel.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		value, _ := input.Attr("value")
		values.Add(name, value)
	})

	return challengeForm{action: action.String(), method: method, values: values}, true
}

func isChallenge(status int, body []byte) bool {
	switch status {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
	default:
		return false
	}
	lower := strings.ToLower(string(body))
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// do sends one request and returns the response with its body fully read
func do(ctx context.Context, client *http.Client, method, rawURL string, payload io.Reader, header http.Header) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("reading body: %w", err)
	}
	return resp, body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
