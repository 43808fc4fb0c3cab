package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadSources reads the list of pages to poll. The file is either
// {"sources": ["https://..."]} or a bare JSON array of URLs.
// A missing file yields an empty list and no error; a corrupt one yields an
// empty list and the parse error, so callers can warn and keep running.
func LoadSources(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sources file %s: %w", path, err)
	}

	var list []string
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		// viper only decodes objects at the top level.
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parse sources file %s: %w", path, err)
		}
	} else {
		v := viper.New()
		v.SetConfigType("json")
		if err := v.ReadConfig(strings.NewReader(string(raw))); err != nil {
			return nil, fmt.Errorf("parse sources file %s: %w", path, err)
		}
		list = v.GetStringSlice("sources")
	}

	return cleanSources(list), nil
}

// cleanSources trims entries, drops non-http(s) URLs and repeats, keeping order.
func cleanSources(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
