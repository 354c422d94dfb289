// Package target resolves every absolute URL a page is reachable under, so a
// single lookup covers redirect aliases and previously used domains.
package target

import "strings"

// Resolve returns the canonical URL of pagePath on baseURL, followed by one URL per
// redirect alias and one per legacy domain. Duplicates are kept and malformed input
// is passed through unchanged.
func Resolve(baseURL, pagePath string, redirectFrom, legacyDomains []string) []string {
	base := strings.TrimSuffix(baseURL, "/")
	canonical := base + pagePath

	targets := make([]string, 0, 1+len(redirectFrom)+len(legacyDomains))
	targets = append(targets, canonical)
	for _, alias := range redirectFrom {
		targets = append(targets, replaceFirst(canonical, pagePath, alias))
	}
	for _, domain := range legacyDomains {
		targets = append(targets, replaceFirst(canonical, base, strings.TrimSuffix(domain, "/")))
	}
	return targets
}

func replaceFirst(s, old, replacement string) string {
	if old == "" {
		return s
	}
	return strings.Replace(s, old, replacement, 1)
}
