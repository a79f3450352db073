package research

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

type entry struct {
	Title     string
	Source    string
	Published time.Time
	Summary   string
}

func (e entry) note() string {
	var b strings.Builder
	b.WriteString(e.Title)
	b.WriteString(" (")
	b.WriteString(e.Source)
	if !e.Published.IsZero() {
		b.WriteString(", ")
		b.WriteString(e.Published.Format("2006-01-02"))
	}
	b.WriteString(")")
	if e.Summary != "" {
		b.WriteString(": ")
		b.WriteString(truncate(e.Summary, snippetLen))
	}
	return b.String()
}

func (g *Gatherer) parseFeed(ctx context.Context, f Feed, cutoff time.Time) ([]entry, error) {
	name := f.Name
	if name == "" {
		name = extractSourceName(f.URL)
	}

	feed, err := g.parser.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return nil, err
	}

	var entries []entry
	for _, item := range feed.Items {
		if len(entries) >= maxPerFeed {
			break
		}
		e, ok := parseItem(item, name)
		if !ok {
			continue
		}
		if e.Published.IsZero() || !e.Published.Before(cutoff) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func parseItem(item *gofeed.Item, source string) (entry, bool) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return entry{}, false
	}

	e := entry{Title: title, Source: source}
	if item.PublishedParsed != nil {
		e.Published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		e.Published = *item.UpdatedParsed
	}

	if item.Description != "" {
		e.Summary = stripHTML(item.Description)
	} else if item.Content != "" {
		e.Summary = stripHTML(item.Content)
	}
	return e, true
}

// sortByRecency puts the newest entries first; undated ones go last.
func sortByRecency(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Published, entries[j].Published
		if a.IsZero() != b.IsZero() {
			return !a.IsZero()
		}
		return a.After(b)
	})
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	return strings.Join(strings.Fields(s), " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		host = parts[len(parts)-2]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s...", strings.TrimSpace(string(r[:n])))
}
