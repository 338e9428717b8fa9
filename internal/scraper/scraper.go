package scraper

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultMaxFragments is how many event links are kept per listing page
const DefaultMaxFragments = 30

// eventLinkPattern matches event detail paths like "/events/some-show/ET00464841".
// The slug group may be empty so such links can be recognised and skipped.
var eventLinkPattern = regexp.MustCompile(`/events/([^/?#]*)/(ET\d+)`)

// containerSelector matches elements that can be the card holding an event link's details
const containerSelector = "div, article, li, section"

// Fragment is the raw material for one event: its link and the text lines
// of the card around it.
type Fragment struct {
	Href  string
	Slug  string
	Code  string
	Lines []string
}

// Extractor finds event fragments in a listing page
type Extractor struct {
	maxFragments int
}

// NewExtractor creates an Extractor keeping at most maxFragments per page
func NewExtractor(maxFragments int) *Extractor {
	if maxFragments < 1 {
		maxFragments = DefaultMaxFragments
	}
	return &Extractor{maxFragments: maxFragments}
}

// Extract returns the fragments of a listing page in document order.
// A page without event links yields an empty slice and no error.
func (x *Extractor) Extract(r io.Reader) ([]Fragment, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	fragments := make([]Fragment, 0)
	seen := make(map[string]bool)

	doc.Find("a[href]").EachWithBreak(func(i int, link *goquery.Selection) bool {
		href, slug, code, ok := matchEventLink(link)
		if !ok || seen[href] {
			return true
		}
		seen[href] = true

		fragments = append(fragments, Fragment{
			Href:  href,
			Slug:  slug,
			Code:  code,
			Lines: cardLines(link),
		})
		return len(fragments) < x.maxFragments
	})

	return fragments, nil
}

// cardLines returns the lines of the nearest container around link that
// holds no other event link. When the nearest container is shared, as in a
// grid of anchor cards, the anchor's own lines are used.
func cardLines(link *goquery.Selection) []string {
	for s := link.Parent(); s.Length() > 0; s = s.Parent() {
		if !s.Is(containerSelector) {
			continue
		}
		if distinctLinks(s) > 1 {
			break
		}
		return textLines(s.Nodes[0])
	}
	return textLines(link.Nodes[0])
}

func distinctLinks(s *goquery.Selection) int {
	seen := make(map[string]bool)
	s.Find("a[href]").Each(func(i int, link *goquery.Selection) {
		if href, _, _, ok := matchEventLink(link); ok {
			seen[href] = true
		}
	})
	return len(seen)
}

// CountLinks counts the distinct event links in a page. It is the
// empty-content check used by the fetch chain.
func CountLinks(content []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return 0
	}

	return distinctLinks(doc.Selection)
}

func matchEventLink(link *goquery.Selection) (href, slug, code string, ok bool) {
	href = strings.TrimSpace(link.AttrOr("href", ""))
	m := eventLinkPattern.FindStringSubmatch(href)
	if m == nil || m[1] == "" {
		return "", "", "", false
	}
	return href, m[1], m[2], true
}

// textLines collects the visible text of n as trimmed, non-empty lines.
// Every text node starts a new line, so sibling elements never run together.
func textLines(n *html.Node) []string {
	lines := make([]string, 0)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			for _, line := range strings.Split(n.Data, "\n") {
				line = strings.Join(strings.Fields(line), " ")
				if line != "" {
					lines = append(lines, line)
				}
			}
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return lines
}
