package enrich

import (
	"net/url"
	"strings"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Hosts that belong to the search provider rather than a merchant
var providerHostLabels = map[string]bool{
	"google":            true,
	"googleadservices":  true,
	"googleusercontent": true,
	"gstatic":           true,
	"serpapi":           true,
}

// linkCandidates lists the outbound link fields in preference order.
// ProductLink always points at the provider and is never a candidate.
func linkCandidates(raw domain.RawResult) []string {
	return []string{raw.MerchantLink, raw.SourceLink, raw.Link}
}

// extractLink returns the first trusted candidate link, or under the relaxed
// policy the first candidate that is not provider-internal
func extractLink(raw domain.RawResult, trusted []string, relaxed bool) string {
	var parsed []*url.URL
	for _, candidate := range linkCandidates(raw) {
		u := parseOutbound(candidate)
		if u == nil {
			continue
		}
		if isTrusted(u.Hostname(), trusted) {
			return u.String()
		}
		parsed = append(parsed, u)
	}

	if !relaxed {
		return ""
	}

	for _, u := range parsed {
		if !isProviderInternal(u.Hostname()) {
			return u.String()
		}
	}
	return ""
}

// parseOutbound parses an absolute http(s) link, unwrapping provider redirects
func parseOutbound(link string) *url.URL {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil
	}

	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil
	}

	if isProviderInternal(u.Hostname()) {
		if target := redirectTarget(u); target != nil {
			return target
		}
	}
	return u
}

// redirectTarget extracts the destination of a provider redirect such as /url?q=
func redirectTarget(u *url.URL) *url.URL {
	if u.Path != "/url" && u.Path != "/aclk" {
		return nil
	}

	q := u.Query()
	for _, param := range []string{"url", "q", "adurl"} {
		target, err := url.Parse(q.Get(param))
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Hostname() == "" {
			continue
		}
		if isProviderInternal(target.Hostname()) {
			continue
		}
		return target
	}
	return nil
}

// isTrusted reports whether host is a trusted domain or a subdomain of one
func isTrusted(host string, trusted []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range trusted {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isProviderInternal(host string) bool {
	for _, label := range strings.Split(strings.ToLower(host), ".") {
		if providerHostLabels[label] {
			return true
		}
	}
	return false
}
