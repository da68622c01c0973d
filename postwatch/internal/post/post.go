// CLAUDE:SUMMARY Post content record and overflow-free numeric comparison of platform post ids.
// Package post defines what postwatch knows about one published post and
// how two post identifiers compare.
package post

import "strings"

// MinIDLength is the shortest id accepted as plausible. Platform ids are
// snowflakes; anything shorter is a parse artefact.
const MinIDLength = 15

// Content is the cached display copy of a post.
type Content struct {
	Text        string   `json:"text,omitempty"`
	URL         string   `json:"url,omitempty"`
	HasMedia    bool     `json:"has_media,omitempty"`
	MediaURLs   []string `json:"media_urls,omitempty"`
	PublishedAt int64    `json:"published_at,omitempty"` // unix ms, 0 = unknown
	Source      string   `json:"source,omitempty"`
}

// IsZero reports whether c carries no information.
func (c Content) IsZero() bool {
	return c.Text == "" && c.URL == "" && !c.HasMedia && len(c.MediaURLs) == 0 && c.PublishedAt == 0
}

// Merge returns c with every empty field filled from other.
func (c Content) Merge(other Content) Content {
	if c.Text == "" {
		c.Text = other.Text
	}
	if c.URL == "" {
		c.URL = other.URL
	}
	if !c.HasMedia {
		c.HasMedia = other.HasMedia
	}
	if len(c.MediaURLs) == 0 {
		c.MediaURLs = other.MediaURLs
	}
	if c.PublishedAt == 0 {
		c.PublishedAt = other.PublishedAt
	}
	if c.Source == "" {
		c.Source = other.Source
	}
	return c
}

// IsNumeric reports whether id is a non-empty string of ASCII digits.
func IsNumeric(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// Plausible reports whether id is long enough to be a real post id.
// minLen <= 0 means MinIDLength.
func Plausible(id string, minLen int) bool {
	if minLen <= 0 {
		minLen = MinIDLength
	}
	return len(strings.TrimSpace(id)) >= minLen
}

// Compare compares two numeric ids of arbitrary length. ok is false when
// either id is not numeric; cmp is then 0.
func Compare(a, b string) (cmp int, ok bool) {
	if !IsNumeric(a) || !IsNumeric(b) {
		return 0, false
	}
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	switch {
	case len(a) < len(b):
		return -1, true
	case len(a) > len(b):
		return 1, true
	}
	return strings.Compare(a, b), true
}

// Newer reports whether candidate is numerically greater than ref.
// An empty ref makes every numeric candidate newer.
func Newer(candidate, ref string) bool {
	if ref == "" {
		return IsNumeric(candidate)
	}
	c, ok := Compare(candidate, ref)
	return ok && c > 0
}
