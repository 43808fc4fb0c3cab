package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"giveaway-bot/database"
	"giveaway-bot/models"
	"giveaway-bot/ratelimit"
	"giveaway-bot/scanner"
	"giveaway-bot/utils"
)

const (
	previewMaxSources = 3
	previewMaxLinks   = 5
	maxReplyLen       = 1900
)

func (s *Service) scan(ctx context.Context, req Request) Result {
	res, err := s.Scanner.ScanChannel(ctx, req.ChannelID)
	if err != nil {
		return manualFailure(models.ActionScan, err)
	}

	target := req.ChannelID
	if cfg, found, gerr := s.Store.Get(ctx, req.ChannelID); gerr == nil && found {
		target = cfg.Target()
	}

	var b strings.Builder
	if len(res.NewLinks) == 0 {
		b.WriteString("Scan complete. No new giveaways found.")
	} else {
		fmt.Fprintf(&b, "Scan complete. Posted %d new giveaway(s) to <#%s>.", len(res.NewLinks), target)
	}
	if res.SkippedDuplicate > 0 {
		fmt.Fprintf(&b, " %d already posted.", res.SkippedDuplicate)
	}
	if res.SourcesFailed > 0 {
		fmt.Fprintf(&b, " %d source(s) could not be loaded.", res.SourcesFailed)
	}
	if failed := len(res.Errors) - res.SourcesFailed; failed > 0 {
		fmt.Fprintf(&b, " %d post(s) failed and will be retried on the next scan.", failed)
	}
	return ok(b.String())
}

func (s *Service) preview(ctx context.Context, req Request) Result {
	override := strings.TrimSpace(req.URL)
	if override != "" && !validPageURL(override) {
		return failf("Please provide a full http(s) URL.")
	}

	res, err := s.Scanner.Preview(ctx, req.ChannelID, override)
	if err != nil {
		return manualFailure(models.ActionPreview, err)
	}
	return ok(truncateReply(renderPreview(res)))
}

func renderPreview(res scanner.PreviewResult) string {
	var b strings.Builder
	for i, src := range res.Sources {
		if i == previewMaxSources {
			fmt.Fprintf(&b, "…and %d more source(s)\n", len(res.Sources)-previewMaxSources)
			break
		}
		if src.Err != nil {
			fmt.Fprintf(&b, "- %s: error %v\n", src.URL, src.Err)
			continue
		}
		fmt.Fprintf(&b, "- %s: %d found\n", src.URL, len(src.Links))
		for j, l := range src.Links {
			if j == previewMaxLinks {
				break
			}
			mark := ""
			if l.Posted {
				mark = " (already posted)"
			}
			fmt.Fprintf(&b, "  • %s -> %s%s\n", l.Title, l.URL, mark)
		}
	}
	fmt.Fprintf(&b, "\nA scan would post %d new link(s); %d already posted, %d filtered out.",
		len(res.NewLinks), res.SkippedDuplicate, res.SkippedFiltered)
	return b.String()
}

// manualFailure maps the errors of a manual scan or preview to a user reply.
func manualFailure(action models.Action, err error) Result {
	var denied *ratelimit.DeniedError
	switch {
	case errors.As(err, &denied):
		return Result{
			Status:     StatusRateLimited,
			Message:    fmt.Sprintf("This channel hit its daily %s limit. Try again in %s.", action, utils.FormatCooldown(denied.RetryAfter)),
			RetryAfter: denied.RetryAfter,
		}
	case errors.Is(err, scanner.ErrNoSources):
		return failf("No sources configured.")
	case errors.Is(err, scanner.ErrAllSourcesFailed):
		return failf("%s failed: no source could be loaded. Your daily %s was not used.", capitalize(string(action)), action)
	case database.IsPersistenceError(err):
		return failf("%s failed: could not save channel state.", capitalize(string(action)))
	default:
		return failf("%s failed: %v", capitalize(string(action)), err)
	}
}

func validPageURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func truncateReply(s string) string {
	r := []rune(s)
	if len(r) <= maxReplyLen {
		return s
	}
	return string(r[:maxReplyLen-1]) + "…"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
