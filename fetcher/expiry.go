package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var endedText = regexp.MustCompile(`(?i)(giveaway\s+has\s+ended|competition\s+has\s+ended|\bended\b|\bexpired\b|no\s+longer\s+active)`)

// Expired probes a giveaway page once. A page is expired when it answers 404 or
// 410 or its visible text says the giveaway is over. Any other error status and
// transport errors return false with the error, so a rate-limited or briefly
// unavailable page is never treated as ended.
func (f *Fetcher) Expired(ctx context.Context, giveawayURL string) (bool, error) {
	body, status, err := f.get(ctx, giveawayURL)
	if err != nil {
		return false, &FetchError{Source: giveawayURL, Err: err}
	}
	switch {
	case status == http.StatusNotFound, status == http.StatusGone:
		return true, nil
	case status >= 400:
		return false, &FetchError{Source: giveawayURL, StatusCode: status}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", giveawayURL, err)
	}
	doc.Find("script, style, noscript").Remove()
	return endedText.MatchString(doc.Text()), nil
}
