package endpoint

import (
	"net/http"
	"strings"
)

// ParseLink parses RFC 8288 Link headers into a map from relation type to
// target URL. The first link for a relation wins.
func ParseLink(h http.Header) map[string]string {
	links := make(map[string]string)
	for _, value := range h.Values("Link") {
		rest := value
		for {
			open := strings.IndexByte(rest, '<')
			if open < 0 {
				break
			}
			end := strings.IndexByte(rest[open:], '>')
			if end < 0 {
				break
			}
			target := rest[open+1 : open+end]
			rest = rest[open+end+1:]

			params := rest
			if next := strings.IndexByte(rest, '<'); next >= 0 {
				params = rest[:next]
				rest = rest[next:]
			} else {
				rest = ""
			}

			for _, param := range strings.Split(params, ";") {
				key, val, ok := strings.Cut(strings.Trim(param, " ,"), "=")
				if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(val), `"`)) {
					rel = strings.ToLower(rel)
					if _, seen := links[rel]; !seen {
						links[rel] = target
					}
				}
			}
		}
	}
	return links
}

// NextLink returns the rel="next" target of h, if any.
func NextLink(h http.Header) (string, bool) {
	next, ok := ParseLink(h)["next"]
	return next, ok
}
