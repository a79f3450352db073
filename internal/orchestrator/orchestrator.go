// Package orchestrator executes resume queues against the generation engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/engine"
	"github.com/TobiSchelling/ContentForge/internal/progress"
	"github.com/TobiSchelling/ContentForge/internal/quality"
	"github.com/TobiSchelling/ContentForge/internal/research"
	"github.com/TobiSchelling/ContentForge/internal/resume"
)

// Store is the part of the article store a run writes through.
type Store interface {
	GetStrategy(id int64) (*database.Strategy, error)
	GetArticle(id int64) (*database.Article, error)
	Transition(id int64, from, to database.Stage, patch *database.Patch) (*database.Article, error)
	InsertRun(r *database.RunRecord) error
	FinishRun(r *database.RunRecord) error
}

// Researcher supplies background notes for a strategy.
type Researcher interface {
	Gather(ctx context.Context, feeds []research.Feed, sources []string) ([]string, []error)
}

// Config holds the run settings.
type Config struct {
	Thresholds quality.Thresholds
	// EngineTimeout bounds one engine call. Zero means no limit.
	EngineTimeout time.Duration
	// RequestsPerMinute paces engine calls. Zero disables pacing.
	RequestsPerMinute float64
	// Feeds are read for every strategy in addition to its own.
	Feeds []research.Feed
}

// Orchestrator runs work queues one item at a time.
type Orchestrator struct {
	store      Store
	engine     engine.Engine
	researcher Researcher
	cfg        Config
	limiter    *rate.Limiter
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an orchestrator. researcher may be nil. Metrics are
// registered with reg, or with a private registry when reg is nil.
func New(store Store, eng engine.Engine, researcher Researcher, cfg Config, reg prometheus.Registerer, logger *zap.Logger) *Orchestrator {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	return &Orchestrator{
		store:      store,
		engine:     eng,
		researcher: researcher,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		metrics:    NewMetrics(reg),
		logger:     logger,
		now:        time.Now,
	}
}

type outcome int

const (
	outcomeGenerated outcome = iota
	outcomeRegenerated
	outcomeSkipped
	outcomeFailed
)

var outcomeLabels = map[outcome]string{
	outcomeGenerated:   "generated",
	outcomeRegenerated: "regenerated",
	outcomeSkipped:     "skipped",
	outcomeFailed:      "failed",
}

// Run processes the queue in order and reports through em. Cancelling ctx
// stops the run before the next item; an engine call already in flight is
// allowed to finish. The last event is always a complete event carrying the
// summary, unless the run fails as a whole: then the last event is a fatal
// event and the error is returned with no summary.
func (o *Orchestrator) Run(ctx context.Context, q *resume.Queue, em progress.Emitter) (*progress.Summary, error) {
	if em == nil {
		em = progress.Discard
	}
	log := o.logger.With(zap.Int64("strategy_id", q.StrategyID))

	strategy, err := o.store.GetStrategy(q.StrategyID)
	if err != nil {
		return nil, o.fail(em, nil, fmt.Errorf("loading strategy %d: %w", q.StrategyID, err))
	}

	run := &database.RunRecord{
		ID:         uuid.NewString(),
		StrategyID: strategy.ID,
		StartedAt:  o.now().UTC(),
		Queued:     q.Len(),
	}
	if err := o.store.InsertRun(run); err != nil {
		return nil, o.fail(em, nil, fmt.Errorf("recording run: %w", err))
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("run started", zap.Int("queued", q.Len()))

	o.metrics.active.Inc()
	defer o.metrics.active.Dec()

	notes := o.gatherResearch(ctx, strategy, em)

	sum := &progress.Summary{RunID: run.ID, StrategyID: strategy.ID, Queued: q.Len(), Errors: []string{}}
	total := q.Len()
	for i, item := range q.Items {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}
		if err := o.limiter.Wait(ctx); err != nil {
			sum.Cancelled = true
			break
		}

		em.Emit(progress.Event{
			Type:      progress.TypeProgress,
			Percent:   percent(i, total),
			Step:      fmt.Sprintf("Generating %d of %d", i+1, total),
			Title:     item.Title,
			ArticleID: item.ArticleID,
		})

		res, msg, err := o.process(ctx, strategy, item, notes, em)
		if err != nil {
			return nil, o.fail(em, run, err)
		}

		o.metrics.items.WithLabelValues(outcomeLabels[res]).Inc()
		step := "Generated"
		switch res {
		case outcomeGenerated:
			sum.Generated++
		case outcomeRegenerated:
			sum.Regenerated++
			step = "Regenerated"
		case outcomeSkipped:
			sum.Skipped++
			step = "Skipped"
		case outcomeFailed:
			sum.Failed++
			step = "Failed"
		}
		em.Emit(progress.Event{
			Type:      progress.TypeProgress,
			Percent:   percent(i+1, total),
			Step:      fmt.Sprintf("%s %d of %d", step, i+1, total),
			Title:     item.Title,
			ArticleID: item.ArticleID,
		})
		if res == outcomeFailed {
			sum.Errors = append(sum.Errors, fmt.Sprintf("article %d (%s): %s", item.ArticleID, item.Title, msg))
		}
	}

	o.finish(run, sum)
	if err := o.store.FinishRun(run); err != nil {
		// The articles are already in their final state.
		log.Warn("failed to record run result", zap.Error(err))
	}

	outcomeLabel := "completed"
	if sum.Cancelled {
		outcomeLabel = "cancelled"
	}
	o.metrics.runs.WithLabelValues(outcomeLabel).Inc()
	log.Info("run finished",
		zap.Int("generated", sum.Generated),
		zap.Int("regenerated", sum.Regenerated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Bool("cancelled", sum.Cancelled),
	)

	em.Emit(progress.Event{
		Type:    progress.TypeComplete,
		Percent: percent(sum.Processed(), total),
		Step:    completeStep(sum),
		Summary: sum,
	})
	return sum, nil
}

// process takes one queue item through generation. Item-level problems are
// folded into the outcome; only store failures are returned as errors.
func (o *Orchestrator) process(ctx context.Context, strategy *database.Strategy, item resume.Item, notes []string, em progress.Emitter) (outcome, string, error) {
	log := o.logger.With(zap.Int64("article_id", item.ArticleID))

	a, err := o.store.GetArticle(item.ArticleID)
	if errors.Is(err, database.ErrNotFound) {
		o.warn(em, item, "article no longer exists, skipped")
		return outcomeSkipped, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("loading article %d: %w", item.ArticleID, err)
	}
	if a.Stage != item.ExpectedStage {
		log.Info("article moved since planning, skipped",
			zap.String("expected", string(item.ExpectedStage)),
			zap.String("stage", string(a.Stage)),
		)
		o.warn(em, item, fmt.Sprintf("article is now %s (planned as %s), skipped", a.Stage, item.ExpectedStage))
		return outcomeSkipped, "", nil
	}

	from := a.Stage
	if item.ResetFirst {
		empty := ""
		zero := 0
		_, err := o.store.Transition(a.ID, from, database.StagePlanned, &database.Patch{
			Content: &empty, WordCount: &zero, QualityScore: &zero, Issues: []string{},
		})
		if skip, err := o.contended(em, item, err); skip || err != nil {
			return outcomeSkipped, "", err
		}
		from = database.StagePlanned
	}
	if _, err := o.store.Transition(a.ID, from, database.StageGenerating, nil); err != nil {
		if skip, err := o.contended(em, item, err); skip || err != nil {
			return outcomeSkipped, "", err
		}
	}

	req := engine.Request{
		Kind:        a.Kind,
		Title:       a.Title,
		ParentTitle: o.parentTitle(a),
		TargetWords: o.cfg.Thresholds.Target(string(a.Kind)),
		Strategy: engine.StrategyContext{
			Name:        strategy.Name,
			Description: strategy.Description,
			Audience:    strategy.Audience,
		},
		Research: notes,
	}

	// The engine call is not a cancellation point.
	callCtx := context.WithoutCancel(ctx)
	if o.cfg.EngineTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, o.cfg.EngineTimeout)
		defer cancel()
	}
	start := time.Now()
	result, genErr := o.engine.Generate(callCtx, req)
	o.metrics.engineDuration.WithLabelValues(string(a.Kind)).Observe(time.Since(start).Seconds())

	if genErr != nil {
		if !errors.Is(genErr, engine.ErrEngineFailure) {
			genErr = fmt.Errorf("%w: %v", engine.ErrEngineFailure, genErr)
		}
		log.Warn("generation failed", zap.Error(genErr))
		return o.corrupt(em, item, a.ID, &database.Patch{Issues: []string{"engine_failure"}}, genErr.Error())
	}

	report := quality.Check(result.Content, string(a.Kind), result.QualityScore, o.cfg.Thresholds)
	patch := &database.Patch{
		Content:      &result.Content,
		WordCount:    &report.WordCount,
		QualityScore: &result.QualityScore,
		Issues:       nonNil(report.Issues),
	}
	if report.Corrupt() {
		msg := fmt.Sprintf("invalid output (%s)", strings.Join(report.Issues, ", "))
		log.Warn("generated content rejected", zap.Strings("issues", report.Issues))
		return o.corrupt(em, item, a.ID, patch, msg)
	}

	_, err = o.store.Transition(a.ID, database.StageGenerating, database.StageGenerated, patch)
	if skip, err := o.contended(em, item, err); skip || err != nil {
		return outcomeSkipped, "", err
	}
	log.Debug("article generated", zap.Int("words", report.WordCount), zap.Int("score", result.QualityScore))
	if item.ExpectedStage == database.StagePlanned {
		return outcomeGenerated, "", nil
	}
	return outcomeRegenerated, "", nil
}

func (o *Orchestrator) corrupt(em progress.Emitter, item resume.Item, id int64, patch *database.Patch, msg string) (outcome, string, error) {
	_, err := o.store.Transition(id, database.StageGenerating, database.StageCorrupted, patch)
	if skip, err := o.contended(em, item, err); skip || err != nil {
		return outcomeSkipped, "", err
	}
	em.Emit(progress.Event{
		Type:      progress.TypeItemError,
		ArticleID: item.ArticleID,
		Title:     item.Title,
		Message:   msg,
	})
	return outcomeFailed, msg, nil
}

// contended sorts out a transition error. Losing a race for the article
// means skipping it; any other error is the store failing.
func (o *Orchestrator) contended(em progress.Emitter, item resume.Item, err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, database.ErrStaleState), errors.Is(err, database.ErrNotFound):
		o.warn(em, item, fmt.Sprintf("article changed concurrently, skipped: %v", err))
		return true, nil
	default:
		return false, fmt.Errorf("updating article %d: %w", item.ArticleID, err)
	}
}

func (o *Orchestrator) parentTitle(a *database.Article) string {
	if a.ParentID == nil {
		return ""
	}
	parent, err := o.store.GetArticle(*a.ParentID)
	if err != nil {
		return ""
	}
	return parent.Title
}

func (o *Orchestrator) gatherResearch(ctx context.Context, s *database.Strategy, em progress.Emitter) []string {
	if o.researcher == nil {
		return nil
	}
	feeds := append([]research.Feed(nil), o.cfg.Feeds...)
	for _, u := range s.Feeds {
		feeds = append(feeds, research.Feed{URL: u})
	}
	if len(feeds) == 0 && len(s.Sources) == 0 {
		return nil
	}

	notes, warnings := o.researcher.Gather(ctx, feeds, s.Sources)
	for _, w := range warnings {
		em.Emit(progress.Event{Type: progress.TypeWarning, Message: "research: " + w.Error()})
	}
	return notes
}

func (o *Orchestrator) warn(em progress.Emitter, item resume.Item, msg string) {
	em.Emit(progress.Event{
		Type:      progress.TypeWarning,
		ArticleID: item.ArticleID,
		Title:     item.Title,
		Message:   msg,
	})
}

// fail ends a run that cannot continue.
func (o *Orchestrator) fail(em progress.Emitter, run *database.RunRecord, err error) error {
	o.logger.Error("run failed", zap.Error(err))
	o.metrics.runs.WithLabelValues("failed").Inc()
	if run != nil {
		now := o.now().UTC()
		run.FinishedAt = &now
		run.Errors = append(run.Errors, err.Error())
		if ferr := o.store.FinishRun(run); ferr != nil {
			o.logger.Warn("failed to record run result", zap.Error(ferr))
		}
	}
	em.Emit(progress.Event{Type: progress.TypeFatal, Message: err.Error()})
	return err
}

func (o *Orchestrator) finish(run *database.RunRecord, sum *progress.Summary) {
	now := o.now().UTC()
	run.FinishedAt = &now
	run.Generated = sum.Generated
	run.Regenerated = sum.Regenerated
	run.Skipped = sum.Skipped
	run.Failed = sum.Failed
	run.Cancelled = sum.Cancelled
	run.Errors = sum.Errors
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

func completeStep(sum *progress.Summary) string {
	if sum.Cancelled {
		return fmt.Sprintf("Cancelled after %d of %d", sum.Processed(), sum.Queued)
	}
	return fmt.Sprintf("Finished %d items", sum.Queued)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
