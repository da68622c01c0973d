// CLAUDE:SUMMARY Normalizes post bodies: bluemonday sanitization, html-to-markdown conversion, whitespace folding and length cap.
package source

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
)

// MaxTextLength caps cached post text, in runes.
const MaxTextLength = 4000

// Normalizer turns post HTML into display text.
type Normalizer struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewNormalizer creates a Normalizer. Safe for concurrent use.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// HTML sanitizes fragment and converts it to markdown. Relative links are
// resolved against domain. Falls back to the tag-stripped text.
func (n *Normalizer) HTML(fragment, domain string) string {
	clean := n.policy.Sanitize(fragment)
	if strings.TrimSpace(clean) == "" {
		return ""
	}
	out, err := n.md.ConvertString(clean, converter.WithDomain(domain))
	if err != nil || strings.TrimSpace(out) == "" {
		out = html.UnescapeString(bluemonday.StrictPolicy().Sanitize(fragment))
	}
	return Text(out)
}

// Text folds whitespace runs inside lines, drops blank-line runs and caps
// the length.
func Text(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	text := strings.TrimSpace(strings.Join(out, "\n"))
	if utf8.RuneCountInString(text) > MaxTextLength {
		r := []rune(text)
		text = string(r[:MaxTextLength-1]) + "…"
	}
	return text
}
