package database

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a strategy or article does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when an article's stage changed since it was read.
	ErrStaleState = errors.New("stale state")
	// ErrInvalidTransition is returned for stage moves the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// Kind distinguishes pillar articles from the cluster articles around them.
type Kind string

const (
	KindPillar  Kind = "pillar"
	KindCluster Kind = "cluster"
)

// Stage is the persisted lifecycle state of an article.
type Stage string

const (
	StagePlanned    Stage = "planned"
	StageGenerating Stage = "generating"
	StageGenerated  Stage = "generated"
	StageCorrupted  Stage = "corrupted"
	StagePublished  Stage = "published"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{StagePlanned, StageGenerating, StageGenerated, StageCorrupted, StagePublished}

// transitions maps a stage to the stages it may move to. Moves back to
// planned are the reset path; nothing else goes backwards.
var transitions = map[Stage][]Stage{
	StagePlanned:    {StageGenerating},
	StageGenerating: {StageGenerated, StageCorrupted, StagePlanned},
	StageCorrupted:  {StageGenerating, StagePlanned},
	StageGenerated:  {StagePublished, StagePlanned},
	StagePublished:  nil,
}

// CanTransition reports whether an article may move from one stage to another.
func CanTransition(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Strategy is a named campaign owning a fixed number of articles.
type Strategy struct {
	ID            int64
	Name          string
	Description   string
	Audience      string
	PillarTarget  int
	ClusterTarget int
	Feeds         []string
	Sources       []string
	CreatedAt     time.Time
}

// TotalTarget is the number of articles the strategy was planned with.
func (s Strategy) TotalTarget() int {
	return s.PillarTarget + s.ClusterTarget
}

// NewStrategy describes a strategy to be planned into articles.
type NewStrategy struct {
	Name        string
	Description string
	Audience    string
	Feeds       []string
	Sources     []string
	Pillars     []NewPillar
}

// NewPillar is a pillar title with the cluster titles that support it.
type NewPillar struct {
	Title    string
	Clusters []string
}

// Article is one content item tracked by stage and quality metadata.
type Article struct {
	ID           int64
	StrategyID   int64
	Kind         Kind
	ParentID     *int64
	Title        string
	Stage        Stage
	Content      *string
	WordCount    int
	QualityScore int
	Issues       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasContent reports whether the article carries generated text.
func (a *Article) HasContent() bool {
	return a.Content != nil && *a.Content != ""
}

// Patch holds the metadata written together with a stage transition.
// Nil fields are left unchanged. A non-nil empty Issues slice clears the tags.
type Patch struct {
	Content      *string
	WordCount    *int
	QualityScore *int
	Issues       []string
}

// RunRecord is the persisted summary of one generation run.
type RunRecord struct {
	ID          string
	StrategyID  int64
	StartedAt   time.Time
	FinishedAt  *time.Time
	Queued      int
	Generated   int
	Regenerated int
	Skipped     int
	Failed      int
	Cancelled   bool
	Errors      []string
}

// Stats contains aggregate database statistics.
type Stats struct {
	Strategies int
	Articles   int
	ByStage    map[Stage]int
	Runs       int
}
