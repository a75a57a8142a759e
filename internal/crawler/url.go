package crawler

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
)

// IndexURL returns the grammar list URL for a level, e.g.
// https://jlptsensei.com/jlpt-n3-grammar-list/.
func IndexURL(base string, level grammar.Level) string {
	return fmt.Sprintf("%s/jlpt-n%d-grammar-list/", strings.TrimRight(base, "/"), int(level))
}

// FirstPageURL returns the explicit page-1 URL of a level's grammar list.
func FirstPageURL(base string, level grammar.Level) string {
	return IndexURL(base, level) + "page/1/"
}

// NormalizeURL standardizes a URL so that equivalent links compare equal.
// It resolves ref against base, lowercases the scheme and host, drops
// default ports, fragments and empty queries, and ensures a trailing slash
// on the path.
func NormalizeURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u := b.ResolveReference(r)

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// listingURLs builds the sorted, duplicate-free set of index pages to list.
// The bare index URL is the same page as page 1 and is folded into it.
func listingURLs(base string, level grammar.Level, links []string) ([]string, []error) {
	index, _ := NormalizeURL(base, IndexURL(base, level))
	first, _ := NormalizeURL(base, FirstPageURL(base, level))

	set := map[string]struct{}{first: {}}
	var errs []error
	for _, link := range links {
		normalized, err := NormalizeURL(base, link)
		if err != nil {
			errs = append(errs, fmt.Errorf("pagination link %q: %w", link, err))
			continue
		}
		if normalized == index {
			normalized = first
		}
		set[normalized] = struct{}{}
	}
	urls := make([]string, 0, len(set))
	for u := range set {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, errs
}
