// Package diagnose classifies every article of a strategy from its
// persisted state. Analysis is read-only and can be repeated at any time.
package diagnose

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/quality"
)

// Class is the condition an article is diagnosed in. It differs from the
// persisted stage where content turned out broken or a generation stalled.
type Class string

const (
	ClassPlanned Class = "planned"
	// ClassStuck is a generation left running past the stuck threshold.
	ClassStuck Class = "generating"
	// ClassInFlight is a generation that may still be running elsewhere.
	ClassInFlight  Class = "in_flight"
	ClassGenerated Class = "generated"
	ClassCorrupted Class = "corrupted"
	ClassPublished Class = "published"
)

// Classes lists every class in report order.
var Classes = []Class{ClassPlanned, ClassStuck, ClassInFlight, ClassGenerated, ClassCorrupted, ClassPublished}

// Store is the read side of the article store.
type Store interface {
	GetStrategy(id int64) (*database.Strategy, error)
	ListByStrategy(strategyID int64) ([]database.Article, error)
}

// Finding is the diagnosis of a single article.
type Finding struct {
	ArticleID    int64          `json:"article_id"`
	Title        string         `json:"title"`
	Kind         database.Kind  `json:"kind"`
	Stage        database.Stage `json:"stage"`
	Class        Class          `json:"class"`
	LowQuality   bool           `json:"low_quality"`
	Issues       []string       `json:"issues,omitempty"`
	WordCount    int            `json:"word_count"`
	QualityScore int            `json:"quality_score"`
}

// Diagnosis is a snapshot of a strategy's articles. Findings are in
// creation order.
type Diagnosis struct {
	StrategyID   int64                  `json:"strategy_id"`
	StrategyName string                 `json:"strategy_name"`
	Target       int                    `json:"target"`
	Total        int                    `json:"total"`
	Stages       map[database.Stage]int `json:"stages"`
	Classes      map[Class]int          `json:"classes"`
	LowQuality   int                    `json:"low_quality"`
	Findings     []Finding              `json:"findings"`
	Actions      []string               `json:"actions"`
}

// Count returns the number of articles diagnosed in class c.
func (d *Diagnosis) Count(c Class) int {
	return d.Classes[c]
}

// Analyzer produces diagnoses.
type Analyzer struct {
	store  Store
	th     quality.Thresholds
	logger *zap.Logger
	now    func() time.Time
}

// NewAnalyzer creates an analyzer using the given thresholds.
func NewAnalyzer(store Store, th quality.Thresholds, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{store: store, th: th, logger: logger, now: time.Now}
}

// WithClock returns a copy of the analyzer that reads the time from now.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	c := *a
	c.now = now
	return &c
}

// Analyze diagnoses every article of a strategy. It returns an error
// wrapping database.ErrNotFound when the strategy does not exist.
func (a *Analyzer) Analyze(ctx context.Context, strategyID int64) (*Diagnosis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	strategy, err := a.store.GetStrategy(strategyID)
	if err != nil {
		return nil, fmt.Errorf("loading strategy: %w", err)
	}
	articles, err := a.store.ListByStrategy(strategyID)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}

	now := a.now()
	d := &Diagnosis{
		StrategyID:   strategy.ID,
		StrategyName: strategy.Name,
		Target:       strategy.TotalTarget(),
		Total:        len(articles),
		Stages:       make(map[database.Stage]int, len(database.Stages)),
		Classes:      make(map[Class]int, len(Classes)),
		Findings:     make([]Finding, 0, len(articles)),
	}
	for _, s := range database.Stages {
		d.Stages[s] = 0
	}
	for _, c := range Classes {
		d.Classes[c] = 0
	}

	for i := range articles {
		f := a.classify(&articles[i], now)
		d.Stages[f.Stage]++
		d.Classes[f.Class]++
		if f.LowQuality {
			d.LowQuality++
		}
		d.Findings = append(d.Findings, f)
	}
	d.Actions = recommend(d, a.th)

	a.logger.Debug("strategy analyzed",
		zap.Int64("strategy_id", strategyID),
		zap.Int("articles", d.Total),
		zap.Int("corrupted", d.Classes[ClassCorrupted]),
		zap.Int("stuck", d.Classes[ClassStuck]),
		zap.Int("low_quality", d.LowQuality),
	)
	return d, nil
}

func (a *Analyzer) classify(art *database.Article, now time.Time) Finding {
	f := Finding{
		ArticleID:    art.ID,
		Title:        art.Title,
		Kind:         art.Kind,
		Stage:        art.Stage,
		Issues:       art.Issues,
		WordCount:    art.WordCount,
		QualityScore: art.QualityScore,
	}

	switch art.Stage {
	case database.StagePlanned:
		f.Class = ClassPlanned
		return f
	case database.StageGenerating:
		if !a.th.IsStuck(art.UpdatedAt, now) {
			f.Class = ClassInFlight
			return f
		}
		f.Class = ClassStuck
	case database.StageCorrupted:
		f.Class = ClassCorrupted
	case database.StageGenerated:
		f.Class = ClassGenerated
	case database.StagePublished:
		f.Class = ClassPublished
	}

	if !art.HasContent() {
		if art.Stage == database.StageGenerated {
			f.Class = ClassCorrupted
			f.LowQuality = true
			f.Issues = mergeIssues(f.Issues, []string{quality.IssueEmptyBody})
		}
		return f
	}

	report := quality.Check(*art.Content, string(art.Kind), art.QualityScore, a.th)
	f.WordCount = report.WordCount
	f.LowQuality = report.LowQuality
	f.Issues = mergeIssues(f.Issues, report.Issues)
	if art.Stage == database.StageGenerated && report.Corrupt() {
		f.Class = ClassCorrupted
	}
	return f
}

func mergeIssues(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func recommend(d *Diagnosis, th quality.Thresholds) []string {
	var actions []string
	if n := d.Classes[ClassCorrupted]; n > 0 {
		actions = append(actions, fmt.Sprintf("Regenerate %d corrupted %s", n, plural(n)))
	}
	if n := d.Classes[ClassStuck]; n > 0 {
		actions = append(actions, fmt.Sprintf("Reset %d %s stuck in generation for more than %s", n, plural(n), th.StuckAfter))
	}
	if n := d.Classes[ClassInFlight]; n > 0 {
		actions = append(actions, fmt.Sprintf("Wait for %d %s currently being generated", n, plural(n)))
	}
	if n := d.LowQuality; n > 0 {
		actions = append(actions, fmt.Sprintf("Review %d low-quality %s (score below %d or under %.0f%% of target length)",
			n, plural(n), th.MinQualityScore, th.LowQualityFloor*100))
	}
	if n := d.Classes[ClassPlanned]; n > 0 {
		actions = append(actions, fmt.Sprintf("Generate %d planned %s", n, plural(n)))
	}
	if missing := d.Target - d.Total; missing > 0 {
		actions = append(actions, fmt.Sprintf("%d %s of the planned %d are missing from the store", missing, plural(missing), d.Target))
	}
	if len(actions) == 0 {
		actions = append(actions, fmt.Sprintf("Nothing to do: all %d articles are generated or published", d.Total))
	}
	return actions
}

func plural(n int) string {
	if n == 1 {
		return "article"
	}
	return "articles"
}
