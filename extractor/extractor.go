// Package extractor turns fetched source pages into candidate giveaway links.
package extractor

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"giveaway-bot/models"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const maxTitleRunes = 200

// bareURL matches whole URL tokens in plain text that mention a supported host.
// The token must start at a delimiter, and its full host is checked by Normalize.
var bareURL = regexp.MustCompile(`(?i)(?:^|[\s"'<>()\[\]{}])((?:https?://)?[\w.-]*(?:gleam\.io|wn\.nr)/[^\s"'<>()\[\]{}]+)`)

// Extraction is the output of one Extract call.
type Extraction struct {
	Links    []models.CandidateLink // in order of first appearance
	Filtered int                    // anchors dropped by host/path filtering or malformed hrefs
}

// Extract parses an HTML page and returns the supported giveaway links it contains.
// Malformed markup and unparsable hrefs are skipped, never fatal; an error is only
// returned when the body cannot be read.
func Extract(body io.Reader, sourceURL string) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return Extraction{}, fmt.Errorf("parse document: %w", err)
	}

	base, err := url.Parse(sourceURL)
	if err != nil {
		base = nil
	}

	c := &collector{base: base, source: sourceURL, index: make(map[string]int)}
	for _, n := range doc.Nodes {
		c.walk(n)
	}
	return Extraction{Links: c.links, Filtered: c.filtered}, nil
}

type collector struct {
	base     *url.URL
	source   string
	links    []models.CandidateLink
	index    map[string]int // url -> position in links
	filtered int
}

func (c *collector) walk(n *html.Node) {
	switch n.Type {
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		case "a":
			if href, ok := attr(n, "href"); ok {
				c.anchor(n, href)
				return
			}
		}
	case html.TextNode:
		c.text(n.Data)
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child)
	}
}

func (c *collector) anchor(n *html.Node, href string) {
	canonical, platform, ok := Normalize(href, c.base)
	if !ok {
		c.filtered++
		return
	}
	title := cleanTitle(goquery.NewDocumentFromNode(n).Text())
	if title == "" {
		t, _ := attr(n, "title")
		title = cleanTitle(t)
	}
	c.add(canonical, platform, title)
}

func (c *collector) text(s string) {
	for _, sub := range bareURL.FindAllStringSubmatch(s, -1) {
		m := strings.TrimRight(sub[1], ".,;:!?")
		if canonical, platform, ok := Normalize(m, nil); ok {
			c.add(canonical, platform, "")
		}
	}
}

func (c *collector) add(canonical string, platform models.Platform, title string) {
	if i, seen := c.index[canonical]; seen {
		// a later anchor may carry the text the first occurrence lacked
		if c.links[i].Title == canonical && title != "" {
			c.links[i].Title = title
		}
		return
	}
	if title == "" {
		title = canonical
	}
	c.index[canonical] = len(c.links)
	c.links = append(c.links, models.CandidateLink{
		URL:      canonical,
		Platform: platform,
		Title:    title,
		Source:   c.source,
	})
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func cleanTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxTitleRunes {
		s = string(r[:maxTitleRunes-1]) + "…"
	}
	return s
}

// Merge unions extractions from several sources, keeping the first occurrence of
// each URL and the order sources were given in.
func Merge(parts ...Extraction) Extraction {
	var out Extraction
	seen := make(map[string]bool)
	for _, p := range parts {
		out.Filtered += p.Filtered
		for _, l := range p.Links {
			if seen[l.URL] {
				continue
			}
			seen[l.URL] = true
			out.Links = append(out.Links, l)
		}
	}
	return out
}
