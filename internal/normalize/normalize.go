// Package normalize collapses the surface variation in request paths and
// hosts so that every downstream component (matcher, domain lookup, router)
// operates on one canonical form.
package normalize

import "strings"

// Path collapses repeated "/" and guarantees a non-empty, "/"-prefixed
// result whenever the input itself began with "/". Normalize is idempotent:
// Path(Path(p)) == Path(p).
func Path(p string) string {
	if p == "" {
		return "/"
	}

	var b strings.Builder
	b.Grow(len(p))

	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}

	out := b.String()
	if out == "" {
		return "/"
	}
	return out
}

// Host lowercases the host, strips a trailing dot, and strips the port for
// non-bracketed forms. Bracketed IPv6 literals ("[::1]:8080") are returned
// with their bracketed portion intact and the port still stripped; a bare
// IPv6 literal with no brackets is not port-stripped since there is no way
// to tell the address apart from the port delimiter.
func Host(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return h
	}

	if strings.HasPrefix(h, "[") {
		if end := strings.IndexByte(h, ']'); end != -1 {
			// keep "[...]" intact, drop anything after it (":port")
			h = h[:end+1]
		}
		return strings.TrimSuffix(h, ".")
	}

	if idx := strings.LastIndexByte(h, ':'); idx != -1 && strings.IndexByte(h, ':') == idx {
		h = h[:idx]
	}

	return strings.TrimSuffix(h, ".")
}

// Method upper-cases a method token for ASCII case-insensitive comparisons.
func Method(m string) string {
	return strings.ToUpper(strings.TrimSpace(m))
}
