package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dghubble/go-twitter/twitter" //nolint:staticcheck // Using stable v1.1 API
	"github.com/dghubble/oauth1"

	"github.com/pfrederiksen/city-events/internal/event"
)

const (
	maxPostLength = 280
	// DefaultMaxPosts bounds posts per run so a first run does not flood the feed
	DefaultMaxPosts = 10
)

// Credentials holds the OAuth1 keys for the posting account
type Credentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// Complete reports whether all four keys are set
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != "" && c.AccessToken != "" && c.AccessSecret != ""
}

// TwitterNotifier posts events to Twitter
type TwitterNotifier struct {
	client   *twitter.Client
	interval time.Duration
	maxPosts int
}

// NewTwitterNotifier creates a new Twitter notifier.
// Credentials are usually read from the TWITTER_API_KEY, TWITTER_API_SECRET,
// TWITTER_ACCESS_TOKEN and TWITTER_ACCESS_SECRET environment variables.
func NewTwitterNotifier(creds Credentials) (*TwitterNotifier, error) {
	if !creds.Complete() {
		return nil, errors.New("missing required Twitter credentials")
	}

	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	return newTwitterNotifier(config.Client(oauth1.NoContext, token), 2*time.Second), nil
}

func newTwitterNotifier(httpClient *http.Client, interval time.Duration) *TwitterNotifier {
	return &TwitterNotifier{
		client:   twitter.NewClient(httpClient),
		interval: interval,
		maxPosts: DefaultMaxPosts,
	}
}

// SetMaxPosts changes the per-call post limit; a limit <= 0 keeps the current one
func (n *TwitterNotifier) SetMaxPosts(limit int) {
	if limit > 0 {
		n.maxPosts = limit
	}
}

// Notify posts one status per event, in listing order.
// Cancelling ctx stops between posts.
func (n *TwitterNotifier) Notify(ctx context.Context, events []*event.Event) error {
	if len(events) > n.maxPosts {
		events = events[:n.maxPosts]
	}

	for i, evt := range events {
		_, _, err := n.client.Statuses.Update(formatPost(evt), nil)
		if err != nil {
			return fmt.Errorf("failed to post event %s: %w", evt.ID, err)
		}

		// Rate limiting: wait between posts
		if i < len(events)-1 {
			if err := wait(ctx, n.interval); err != nil {
				return err
			}
		}
	}

	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// formatPost formats an event as a post of at most 280 characters
func formatPost(evt *event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎟️ New event in %s!\n\n", evt.City)
	fmt.Fprintf(&b, "🎤 %s\n", evt.Name)

	when := "Date TBA"
	if evt.Date != nil {
		when = evt.Date.Time().Format("Mon, 2 Jan 2006")
		if evt.Time != nil {
			when += " " + evt.Time.String()
		}
	}
	fmt.Fprintf(&b, "📅 %s\n", when)

	if evt.Venue != "" && evt.Venue != event.DefaultVenue {
		fmt.Fprintf(&b, "📍 %s\n", evt.Venue)
	}
	if evt.Category != "" && evt.Category != event.DefaultCategory {
		fmt.Fprintf(&b, "🏷️ %s\n", evt.Category)
	}
	if evt.URL != "" {
		fmt.Fprintf(&b, "\n🔗 %s\n", evt.URL)
	}
	fmt.Fprintf(&b, "\n#%s #Events", hashtag(evt.City))

	post := b.String()
	if utf8.RuneCountInString(post) > maxPostLength {
		// Truncate and add ellipsis
		runes := []rune(post)
		post = string(runes[:maxPostLength-3]) + "..."
	}
	return post
}

func hashtag(s string) string {
	return strings.Join(strings.Fields(s), "")
}
