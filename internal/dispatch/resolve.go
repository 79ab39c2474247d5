// internal/dispatch/resolve.go
//
// View resolution.
//
// Context
// -------
// On the continue path the dispatcher maps the URL segments onto the
// most specific existing template: at each level it probes the index
// template for the directory first, then a directly-named template, then
// shortens the match by one segment and tries again.  Segments the match
// did not consume are forwarded as positional query parameters p1..pn.
// The zero-segment base always answers the root index without probing.
package dispatch

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/strandweb/strand/internal/view"
)

const (
	viewExt   = ".html"
	viewIndex = "/index" + viewExt
)

// ResolveView returns the view identifier for paths plus the query
// string carrying unconsumed segments.
func ResolveView(f view.Finder, paths []string) (viewID, query string) {
	return resolveView(f, paths, len(paths))
}

func resolveView(f view.Finder, paths []string, base int) (string, string) {
	if base == 0 {
		return viewIndex, positionalQuery(paths, 0)
	}

	prefix := "/" + strings.Join(paths[:base], "/")
	if candidate := prefix + viewIndex; f.Exists(candidate) {
		return candidate, positionalQuery(paths, base)
	}
	if candidate := prefix + viewExt; f.Exists(candidate) {
		return candidate, positionalQuery(paths, base)
	}
	return resolveView(f, paths, base-1)
}

// positionalQuery encodes paths[base:] as p1=..&p2=..
func positionalQuery(paths []string, base int) string {
	if base >= len(paths) {
		return ""
	}
	var sb strings.Builder
	for i, n := base, 1; i < len(paths); i, n = i+1, n+1 {
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteByte('p')
		sb.WriteString(strconv.Itoa(n))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(paths[i]))
	}
	return sb.String()
}
