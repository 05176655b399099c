package crawler

import (
	"net/url"
	"strings"
)

// resolve turns href into an absolute http(s) URL relative to base. Fragments
// are dropped; anything else (mailto:, data:, javascript:) is rejected.
func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// NormalizeImages resolves raw image references against pageURL and removes
// duplicates, keeping first-seen order.
func NormalizeImages(pageURL string, raw []string) []string {
	base, _ := url.Parse(pageURL)
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		u, ok := resolve(base, r)
		if !ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// srcsetURLs splits a srcset value ("a.jpg 1x, b.jpg 2x") into its URLs
func srcsetURLs(v string) []string {
	var out []string
	for _, seg := range strings.Split(v, ",") {
		f := strings.Fields(seg)
		if len(f) > 0 {
			out = append(out, f[0])
		}
	}
	return out
}

// withQuery appends a raw query fragment to u with the right separator
func withQuery(u, q string) string {
	if q == "" {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&" + q
	}
	return u + "?" + q
}
