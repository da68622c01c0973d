// CLAUDE:SUMMARY Parses mirror timeline HTML (goquery) and mirror RSS feeds (gofeed) into the latest qualifying post.
package source

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/hazyhaar/postwatch/postwatch/internal/post"
)

var statusIDRe = regexp.MustCompile(`/status/(\d+)`)

// mirrorDateLayout is the title attribute of a timeline date link.
const mirrorDateLayout = "Jan 2, 2006 · 3:04 PM MST"

type timelinePage struct {
	latest  *Result
	missing bool // account does not exist
	empty   bool // account exists, timeline has no posts
}

// parseTimeline picks the first non-pinned, non-repost item of a mirror
// profile page. When every item is pinned or a repost, the first item with
// a usable link is taken.
func parseTimeline(r io.Reader, base, handle, postBase string, norm *Normalizer) (*timelinePage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}

	if panel := strings.ToLower(doc.Find(".error-panel").Text()); panel != "" {
		if strings.Contains(panel, "not found") || strings.Contains(panel, "doesn't exist") {
			return &timelinePage{missing: true}, nil
		}
	}

	items := doc.Find(".timeline-item")
	if items.Length() == 0 {
		return &timelinePage{empty: doc.Find(".timeline-none").Length() > 0}, nil
	}

	var chosen, fallback *goquery.Selection
	items.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if itemID(s) == "" {
			return true
		}
		if fallback == nil {
			fallback = s
		}
		if s.HasClass("pinned") || s.Find(".pinned").Length() > 0 {
			return true
		}
		if strings.Contains(strings.ToLower(s.Find(".retweet-header").Text()), "retweeted") ||
			strings.Contains(strings.ToLower(s.Find(".tweet-header").Text()), "retweeted") {
			return true
		}
		chosen = s
		return false
	})
	if chosen == nil {
		chosen = fallback
	}
	if chosen == nil {
		return &timelinePage{}, nil
	}

	id := itemID(chosen)
	c := post.Content{
		URL:    postURL(postBase, handle, id),
		Source: NameMirror,
	}
	if body, err := chosen.Find(".tweet-content").First().Html(); err == nil {
		c.Text = norm.HTML(body, base)
	}
	chosen.Find(".attachments img, .attachment img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			c.MediaURLs = append(c.MediaURLs, absolute(base, src))
		}
	})
	c.HasMedia = len(c.MediaURLs) > 0 || chosen.Find(".attachments video, .gallery-video").Length() > 0
	if title, ok := chosen.Find(".tweet-date a").First().Attr("title"); ok {
		if ts, err := time.Parse(mirrorDateLayout, title); err == nil {
			c.PublishedAt = ts.UnixMilli()
		}
	}
	return &timelinePage{latest: &Result{Source: NameMirror, PostID: id, Content: c}}, nil
}

func itemID(s *goquery.Selection) string {
	href, ok := s.Find(".tweet-link").First().Attr("href")
	if !ok {
		return ""
	}
	m := statusIDRe.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1]
}

// parseFeed picks the numerically greatest non-repost item of a mirror
// RSS feed.
func parseFeed(feed *gofeed.Feed, handle, postBase string, norm *Normalizer) (*timelinePage, error) {
	if feed == nil {
		return nil, fmt.Errorf("empty feed")
	}
	var best *gofeed.Item
	var bestID string
	for _, item := range feed.Items {
		if strings.HasPrefix(item.Title, "RT by ") {
			continue
		}
		m := statusIDRe.FindStringSubmatch(item.Link)
		if m == nil {
			continue
		}
		if best == nil || post.Newer(m[1], bestID) {
			best, bestID = item, m[1]
		}
	}
	if best == nil {
		return &timelinePage{empty: len(feed.Items) == 0}, nil
	}

	c := post.Content{
		URL:    postURL(postBase, handle, bestID),
		Source: NameMirror,
	}
	desc := best.Description
	if desc == "" {
		desc = best.Content
	}
	if desc != "" {
		c.Text = norm.HTML(desc, postBase)
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(desc)); err == nil {
			doc.Find("img").Each(func(_ int, img *goquery.Selection) {
				if src, ok := img.Attr("src"); ok && src != "" {
					c.MediaURLs = append(c.MediaURLs, src)
				}
			})
		}
	} else {
		c.Text = Text(best.Title)
	}
	for _, enc := range best.Enclosures {
		if enc != nil && enc.URL != "" {
			c.MediaURLs = append(c.MediaURLs, enc.URL)
		}
	}
	c.HasMedia = len(c.MediaURLs) > 0
	if best.PublishedParsed != nil {
		c.PublishedAt = best.PublishedParsed.UnixMilli()
	}
	return &timelinePage{latest: &Result{Source: NameMirror, PostID: bestID, Content: c}}, nil
}

func absolute(base, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(u).String()
}
