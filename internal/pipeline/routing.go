package pipeline

import (
	"fmt"
	"strings"
)

// Routing decides which request paths get the tenant slug spliced in.
//
// AnchorSegment is the path (one or more segments, e.g. "api/tenants") after
// which the slug is inserted. ExemptPrefixes lists path prefixes that never
// receive a slug: authentication, token refresh, tenant discovery, payments
// and pricing endpoints.
type Routing struct {
	AnchorSegment  string
	ExemptPrefixes []string

	anchor []string
}

// Validate normalises the configuration and rejects unusable values.
func (r *Routing) Validate() error {
	anchor := strings.Trim(r.AnchorSegment, "/")
	if anchor == "" {
		return fmt.Errorf("routing: anchor segment is required")
	}
	parts := strings.Split(anchor, "/")
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("routing: anchor %q contains an empty segment", r.AnchorSegment)
		}
	}
	r.anchor = parts

	exempt := make([]string, 0, len(r.ExemptPrefixes))
	for i, p := range r.ExemptPrefixes {
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if p == "" {
			return fmt.Errorf("routing: exempt prefix #%d is empty", i)
		}
		exempt = append(exempt, p)
	}
	r.ExemptPrefixes = exempt
	return nil
}

// IsExempt reports whether path starts with one of the exempt prefixes.
func (r *Routing) IsExempt(path string) bool {
	p := strings.TrimPrefix(path, "/")
	for _, prefix := range r.ExemptPrefixes {
		if strings.HasPrefix(p, strings.TrimPrefix(prefix, "/")) {
			return true
		}
	}
	return false
}

// Rewrite inserts slug right after the anchor segments of path.
// The path is returned unchanged when the anchor is absent or the slug is already in place.
func (r *Routing) Rewrite(path, slug string) string {
	anchor := r.anchor
	if anchor == nil {
		anchor = strings.Split(strings.Trim(r.AnchorSegment, "/"), "/")
	}

	leading := strings.HasPrefix(path, "/")
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")

	at := indexOf(segments, anchor)
	if at < 0 {
		return path
	}
	insert := at + len(anchor)
	if insert < len(segments) && segments[insert] == slug {
		return path
	}

	out := make([]string, 0, len(segments)+1)
	out = append(out, segments[:insert]...)
	out = append(out, slug)
	out = append(out, segments[insert:]...)

	joined := strings.Join(out, "/")
	if leading {
		return "/" + joined
	}
	return joined
}

// indexOf returns the first position where needle occurs as a run of whole segments.
func indexOf(segments, needle []string) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(segments); i++ {
		for j, n := range needle {
			if segments[i+j] != n {
				continue outer
			}
		}
		return i
	}
	return -1
}
