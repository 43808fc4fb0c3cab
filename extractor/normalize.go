package extractor

import (
	"net/url"
	"strings"

	"giveaway-bot/models"
)

// hosts maps a canonical host to the platform it serves.
var hosts = map[string]models.Platform{
	"gleam.io": models.PlatformGleam,
	"wn.nr":    models.PlatformWnnr,
}

// blockedFirstSegments lists first path segments that are site utility pages rather
// than giveaways. The empty segment blocks the bare host.
var blockedFirstSegments = map[models.Platform]map[string]bool{
	models.PlatformGleam: toSet(
		"", "about", "api", "app", "auth", "blog", "brand", "campaigns", "careers",
		"categories", "category", "changelog", "collections", "company", "contact",
		"customers", "dashboard", "developer", "developers", "docs", "examples", "faq",
		"features", "gallery", "guides", "help", "integrations", "jobs", "legal", "login",
		"logout", "oauth", "pages", "partners", "press", "pricing", "privacy", "register",
		"signup", "site", "status", "success", "tag", "tags", "templates", "terms", "tools",
		"users",
	),
	models.PlatformWnnr: toSet(""),
}

// Query parameters that only carry attribution.
var trackingParams = toSet(
	"_ga", "_gl", "dclid", "fbclid", "gclid", "gsr", "igshid", "mc_cid", "mc_eid",
	"msclkid", "ref", "ref_src", "referrer", "utm", "yclid",
)

func toSet(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// Normalize resolves raw against base (which may be nil), and returns the canonical
// form of a supported giveaway URL. ok is false for unsupported hosts, denylisted
// paths and anything that does not parse.
func Normalize(raw string, base *url.URL) (canonical string, platform models.Platform, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}
	if hasBareHost(raw) {
		raw = "https://" + raw
	}

	var u *url.URL
	var err error
	if base != nil {
		u, err = base.Parse(raw)
	} else {
		u, err = url.Parse(raw)
	}
	if err != nil {
		return "", "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	platform, ok = hosts[host]
	if !ok {
		return "", "", false
	}

	path := strings.TrimRight(u.Path, "/")
	first := strings.ToLower(strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0])
	if blockedFirstSegments[platform][first] {
		return "", "", false
	}

	q := u.Query()
	for key := range q {
		k := strings.ToLower(key)
		if trackingParams[k] || strings.HasPrefix(k, "utm_") {
			q.Del(key)
		}
	}

	out := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     path,
		RawQuery: q.Encode(),
	}
	return out.String(), platform, true
}

// hasBareHost reports whether raw starts with a supported host but no scheme,
// as in "gleam.io/abc".
func hasBareHost(raw string) bool {
	lower := strings.TrimPrefix(strings.ToLower(raw), "www.")
	for host := range hosts {
		if strings.HasPrefix(lower, host+"/") || lower == host {
			return true
		}
	}
	return false
}
