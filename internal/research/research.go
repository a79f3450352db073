// Package research gathers recent headlines and reference extracts that are
// handed to the generation engine as background for a strategy.
package research

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

const (
	maxPerFeed   = 20
	snippetLen   = 240
	extractLen   = 600
	minExtractLn = 100
)

// Feed is an RSS/Atom feed to pull headlines from.
type Feed struct {
	URL  string
	Name string
}

// Options configure a Gatherer.
type Options struct {
	Timeout  time.Duration
	MaxNotes int
	DaysBack int
}

// Gatherer collects research notes from feeds and source pages.
type Gatherer struct {
	client   *http.Client
	parser   *gofeed.Parser
	maxNotes int
	daysBack int
	logger   *zap.Logger
	now      func() time.Time
}

// NewGatherer creates a gatherer.
func NewGatherer(opts Options, logger *zap.Logger) *Gatherer {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxNotes == 0 {
		opts.MaxNotes = 8
	}
	if opts.DaysBack == 0 {
		opts.DaysBack = 14
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{
		Timeout: opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &Gatherer{
		client:   client,
		parser:   parser,
		maxNotes: opts.MaxNotes,
		daysBack: opts.DaysBack,
		logger:   logger,
		now:      time.Now,
	}
}

// Gather returns up to MaxNotes notes, source extracts first, then the most
// recent headlines. Every feed or page that could not be read is reported in
// the returned warnings; a failure never prevents the rest from being read.
func (g *Gatherer) Gather(ctx context.Context, feeds []Feed, sources []string) ([]string, []error) {
	var notes []string
	var warnings []error

	for _, src := range sources {
		if len(notes) >= g.maxNotes {
			break
		}
		if ctx.Err() != nil {
			return notes, append(warnings, ctx.Err())
		}
		note, err := g.extract(ctx, src)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("source %s: %w", src, err))
			continue
		}
		notes = append(notes, note)
	}

	cutoff := g.now().AddDate(0, 0, -g.daysBack)
	var entries []entry
	for _, f := range feeds {
		if ctx.Err() != nil {
			return notes, append(warnings, ctx.Err())
		}
		got, err := g.parseFeed(ctx, f, cutoff)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("feed %s: %w", f.URL, err))
			continue
		}
		entries = append(entries, got...)
	}
	sortByRecency(entries)
	for _, e := range entries {
		if len(notes) >= g.maxNotes {
			break
		}
		notes = append(notes, e.note())
	}

	g.logger.Debug("research gathered",
		zap.Int("notes", len(notes)),
		zap.Int("warnings", len(warnings)),
	)
	return notes, warnings
}
