// Package extract pulls SEO-relevant fields and plain text out of HTML pages.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

// Result holds everything parsed from one document.
type Result struct {
	Title           string
	MetaDescription string
	Canonical       string
	Headings        crawler.HeadingCounts
	Images          []crawler.Image
	Links           []string
	// Targets maps a link to its request address when the two differ, which
	// happens for links written with a trailing slash.
	Targets   map[string]string
	Text      string
	WordCount int
	Indexable bool
}

// Page parses body as HTML served from pageURL. Links are resolved against
// the document's <base href> when present, normalized and deduplicated in
// document order. Malformed markup degrades to whatever fields parse; the
// returned error then wraps crawler.ErrParse.
func Page(pageURL string, body []byte) (Result, error) {
	res := Result{Indexable: true}
	base, err := url.Parse(pageURL)
	if err != nil {
		return res, fmt.Errorf("%w: page url: %w", crawler.ErrParse, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("%w: %w", crawler.ErrParse, err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	res.Title = strings.TrimSpace(doc.Find("title").First().Text())
	res.MetaDescription = metaContent(doc, "description")
	res.Indexable = !strings.Contains(strings.ToLower(metaContent(doc, "robots")), "noindex")
	res.Canonical = canonical(doc, base)
	for level := 1; level <= len(res.Headings); level++ {
		res.Headings[level-1] = doc.Find("h" + strconv.Itoa(level)).Length()
	}
	res.Images = images(doc, base)
	res.Links, res.Targets = links(doc, base)
	res.Text = Text(doc.Nodes...)
	res.WordCount = len(strings.Fields(res.Text))
	return res, nil
}

func metaContent(doc *goquery.Document, name string) string {
	var out string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("name", "")), name) {
			return true
		}
		out = strings.TrimSpace(s.AttrOr("content", ""))
		return false
	})
	return out
}

func canonical(doc *goquery.Document, base *url.URL) string {
	var out string
	doc.Find("link[rel][href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rels := strings.Fields(strings.ToLower(s.AttrOr("rel", "")))
		for _, rel := range rels {
			if rel != "canonical" {
				continue
			}
			href := strings.TrimSpace(s.AttrOr("href", ""))
			if resolved, ok := crawler.ResolveLink(base, href); ok {
				out = resolved
			} else {
				out = href
			}
			return false
		}
		return true
	})
	return out
}

func images(doc *goquery.Document, base *url.URL) []crawler.Image {
	var out []crawler.Image
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src != "" {
			if ref, err := base.Parse(src); err == nil {
				src = ref.String()
			}
		}
		out = append(out, crawler.Image{
			Src: src,
			Alt: strings.TrimSpace(s.AttrOr("alt", "")),
		})
	})
	return out
}

func links(doc *goquery.Document, base *url.URL) ([]string, map[string]string) {
	seen := make(map[string]struct{})
	var (
		out     []string
		targets map[string]string
	)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		link, target, ok := crawler.ResolveLinkTarget(base, s.AttrOr("href", ""))
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		out = append(out, link)
		if target != link {
			if targets == nil {
				targets = make(map[string]string)
			}
			targets[link] = target
		}
	})
	return out, targets
}

// IsHTML reports whether a Content-Type header denotes an HTML document.
func IsHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
