package authz

import "strings"

// NormalizePath rewrites purely numeric path segments to the ":id" placeholder
// so raw request paths can match registered route patterns. A segment is only
// rewritten when at least two non-numeric segments precede it and the
// immediately preceding segment is itself non-numeric; anything else is left
// literal. This keeps a crafted path like /api/5/admin from matching a
// /api/:id/admin mapping it was never meant to cover — when in doubt the
// function under-normalizes.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	segments := strings.Split(path, "/")
	nonNumeric := 0
	prevNumeric := true // sentinel: a leading numeric segment never qualifies
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if isNumericSegment(seg) {
			if nonNumeric >= 2 && !prevNumeric {
				segments[i] = ":id"
			}
			prevNumeric = true
			continue
		}
		nonNumeric++
		prevNumeric = false
	}
	return strings.Join(segments, "/")
}

func isNumericSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// patternToLookupPath converts a chi route pattern ("/orders/{id}") into the
// placeholder form mappings are stored in ("/orders/:id"). Registered patterns
// are used verbatim apart from this syntax translation.
func patternToLookupPath(pattern string) string {
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			segments[i] = ":" + strings.Trim(seg, "{}")
		}
		if seg == "*" {
			segments[i] = ":rest"
		}
	}
	return strings.Join(segments, "/")
}
