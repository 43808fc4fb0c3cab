package scanner

import (
	"context"

	"giveaway-bot/models"
)

// PreviewLink is a candidate together with whether the channel already posted it.
type PreviewLink struct {
	models.CandidateLink
	Posted bool
}

// PreviewSource is one fetched source as shown in a preview.
type PreviewSource struct {
	URL   string
	Links []PreviewLink
	Err   error
}

// PreviewResult is the outcome of a preview: the counts a real scan would
// produce plus a per-source breakdown.
type PreviewResult struct {
	models.ScanResult
	Sources []PreviewSource
}

// Preview runs the scan pipeline for one channel up to the duplicate check and
// never posts. If overrideURL is set it is the only source fetched. The daily
// preview quota is consumed once at least one source loads.
func (s *Scanner) Preview(ctx context.Context, channelID, overrideURL string) (PreviewResult, error) {
	unlock := s.locks.Lock(channelID)
	defer unlock()

	now := s.now()
	if err := s.checkQuota(ctx, channelID, models.ActionPreview, now); err != nil {
		return PreviewResult{ScanResult: models.ScanResult{ChannelID: channelID}}, err
	}

	sources := s.sources
	if overrideURL != "" {
		sources = []string{overrideURL}
	}
	pass, err := s.collectForManual(ctx, sources)
	if err != nil {
		return PreviewResult{ScanResult: pass.result(channelID)}, err
	}

	if err := s.consumeQuota(ctx, channelID, models.ActionPreview, now); err != nil {
		return PreviewResult{ScanResult: pass.result(channelID)}, err
	}

	cfg, ok, err := s.store.Get(ctx, channelID)
	if err != nil {
		return PreviewResult{ScanResult: pass.result(channelID)}, err
	}
	if !ok {
		cfg = models.NewChannelConfig(channelID)
	}

	out := PreviewResult{ScanResult: pass.result(channelID)}
	for _, link := range pass.merged.Links {
		if cfg.HasPost(link.URL) {
			out.SkippedDuplicate++
			continue
		}
		out.NewLinks = append(out.NewLinks, link)
	}
	for _, r := range pass.reports {
		ps := PreviewSource{URL: r.URL, Err: r.Err}
		for _, l := range r.Links {
			ps.Links = append(ps.Links, PreviewLink{CandidateLink: l, Posted: cfg.HasPost(l.URL)})
		}
		out.Sources = append(out.Sources, ps)
	}
	return out, nil
}
