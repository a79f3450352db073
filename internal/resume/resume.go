// Package resume turns a diagnosis and a policy into an ordered work queue.
package resume

import (
	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/diagnose"
)

// Policy selects which problem classes a resume touches. The switches are
// independent.
type Policy struct {
	RegenerateCorrupted bool `json:"regenerate_corrupted"`
	ResetStuck          bool `json:"reset_stuck"`
	GeneratePlanned     bool `json:"generate_planned"`
	SkipGenerated       bool `json:"skip_generated"`
	FixLowQuality       bool `json:"fix_low_quality"`
}

// DefaultPolicy repairs and completes a strategy without touching healthy
// generated articles.
func DefaultPolicy() Policy {
	return Policy{
		RegenerateCorrupted: true,
		ResetStuck:          true,
		GeneratePlanned:     true,
		SkipGenerated:       true,
	}
}

// Reason records why an article was queued.
type Reason string

const (
	ReasonCorrupted  Reason = "corrupted"
	ReasonStuck      Reason = "stuck"
	ReasonLowQuality Reason = "low_quality"
	ReasonPlanned    Reason = "planned"
	// ReasonRegenerate is a healthy article queued because SkipGenerated is off.
	ReasonRegenerate Reason = "regenerate"
)

// Item is one queued article.
type Item struct {
	ArticleID int64          `json:"article_id"`
	Title     string         `json:"title"`
	Kind      database.Kind  `json:"kind"`
	Reason    Reason         `json:"reason"`
	// ExpectedStage is the persisted stage the plan saw. The orchestrator
	// skips the item if the article has moved since.
	ExpectedStage database.Stage `json:"expected_stage"`
	// ResetFirst moves the article back to planned before it is generated.
	ResetFirst bool `json:"reset_first"`
}

// Queue is an ordered, duplicate-free list of articles to generate.
type Queue struct {
	StrategyID int64  `json:"strategy_id"`
	Items      []Item `json:"items"`
}

// Len returns the number of queued items.
func (q *Queue) Len() int { return len(q.Items) }

// Counts tallies the queue by reason.
func (q *Queue) Counts() map[Reason]int {
	counts := make(map[Reason]int)
	for _, it := range q.Items {
		counts[it.Reason]++
	}
	return counts
}

type selector struct {
	reason Reason
	match  func(diagnose.Finding) bool
}

// Plan builds the work queue for a diagnosis. Classes are taken in priority
// order (corrupted, stuck, low quality, planned, then healthy generated
// articles when SkipGenerated is off) and an article is queued under the
// first class it matches. Within a class, articles keep creation order.
// Plan never writes and returns an empty queue when nothing matches.
func Plan(d *diagnose.Diagnosis, p Policy) *Queue {
	var selectors []selector
	if p.RegenerateCorrupted {
		selectors = append(selectors, selector{ReasonCorrupted, func(f diagnose.Finding) bool {
			return f.Class == diagnose.ClassCorrupted
		}})
	}
	if p.ResetStuck {
		selectors = append(selectors, selector{ReasonStuck, func(f diagnose.Finding) bool {
			return f.Class == diagnose.ClassStuck
		}})
	}
	if p.FixLowQuality {
		selectors = append(selectors, selector{ReasonLowQuality, func(f diagnose.Finding) bool {
			return f.LowQuality && f.Class != diagnose.ClassInFlight
		}})
	}
	if p.GeneratePlanned {
		selectors = append(selectors, selector{ReasonPlanned, func(f diagnose.Finding) bool {
			return f.Class == diagnose.ClassPlanned
		}})
	}
	if !p.SkipGenerated {
		selectors = append(selectors, selector{ReasonRegenerate, func(f diagnose.Finding) bool {
			return f.Class == diagnose.ClassGenerated
		}})
	}

	q := &Queue{StrategyID: d.StrategyID, Items: []Item{}}
	taken := make(map[int64]bool)
	for _, sel := range selectors {
		for _, f := range d.Findings {
			if taken[f.ArticleID] || f.Stage == database.StagePublished || !sel.match(f) {
				continue
			}
			taken[f.ArticleID] = true
			q.Items = append(q.Items, Item{
				ArticleID:     f.ArticleID,
				Title:         f.Title,
				Kind:          f.Kind,
				Reason:        sel.reason,
				ExpectedStage: f.Stage,
				ResetFirst:    f.Stage == database.StageGenerating || f.Stage == database.StageGenerated,
			})
		}
	}
	return q
}
