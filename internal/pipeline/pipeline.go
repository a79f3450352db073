// Package pipeline wires configuration, storage and the generation engine
// into the diagnose, plan and run steps.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/TobiSchelling/ContentForge/internal/config"
	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/diagnose"
	"github.com/TobiSchelling/ContentForge/internal/engine"
	"github.com/TobiSchelling/ContentForge/internal/llm"
	"github.com/TobiSchelling/ContentForge/internal/orchestrator"
	"github.com/TobiSchelling/ContentForge/internal/progress"
	"github.com/TobiSchelling/ContentForge/internal/research"
	"github.com/TobiSchelling/ContentForge/internal/resume"
)

// ErrNoProvider is returned when a run needs the engine but no LLM provider
// is available.
var ErrNoProvider = errors.New("no LLM provider available")

// BatchResult is the outcome of one strategy in a ResumeAll.
type BatchResult struct {
	StrategyID int64
	Name       string
	Summary    *progress.Summary
	Err        error
}

// Pipeline runs diagnosis and generation for strategies.
type Pipeline struct {
	cfg          *config.Config
	db           *database.DB
	analyzer     *diagnose.Analyzer
	orchestrator *orchestrator.Orchestrator
	engineErr    error
	logger       *zap.Logger
}

// New creates a pipeline backed by the configured LLM provider.
func New(cfg *config.Config, db *database.DB, logger *zap.Logger, reg prometheus.Registerer) *Pipeline {
	provider := llm.CreateProvider(cfg.Engine, logger)

	var researcher orchestrator.Researcher
	if cfg.Research.Enabled {
		researcher = research.NewGatherer(research.Options{
			Timeout:  cfg.Research.FetchTimeout,
			MaxNotes: cfg.Research.MaxNotes,
			DaysBack: cfg.Research.DaysBack,
		}, logger)
	}

	p := NewWithEngine(cfg, db, engine.NewLLMEngine(provider, cfg.Engine.MaxTokens), researcher, logger, reg)
	if provider == nil {
		p.engineErr = ErrNoProvider
	}
	return p
}

// NewWithEngine creates a pipeline around an existing engine.
func NewWithEngine(cfg *config.Config, db *database.DB, eng engine.Engine, researcher orchestrator.Researcher, logger *zap.Logger, reg prometheus.Registerer) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	th := cfg.Thresholds()

	var feeds []research.Feed
	for _, f := range cfg.Research.Feeds {
		feeds = append(feeds, research.Feed{URL: f.URL, Name: f.Name})
	}

	return &Pipeline{
		cfg:      cfg,
		db:       db,
		analyzer: diagnose.NewAnalyzer(db, th, logger.Named("diagnose")),
		orchestrator: orchestrator.New(db, eng, researcher, orchestrator.Config{
			Thresholds:        th,
			EngineTimeout:     cfg.Engine.Timeout,
			RequestsPerMinute: cfg.Engine.RequestsPerMinute,
			Feeds:             feeds,
		}, reg, logger.Named("orchestrator")),
		logger: logger,
	}
}

// Diagnose analyzes a strategy.
func (p *Pipeline) Diagnose(ctx context.Context, strategyID int64) (*diagnose.Diagnosis, error) {
	return p.analyzer.Analyze(ctx, strategyID)
}

// DryRun shows what a resume would queue without executing anything.
func (p *Pipeline) DryRun(ctx context.Context, strategyID int64, policy resume.Policy) (*resume.Queue, *diagnose.Diagnosis, error) {
	d, err := p.analyzer.Analyze(ctx, strategyID)
	if err != nil {
		return nil, nil, err
	}
	return resume.Plan(d, policy), d, nil
}

// Resume diagnoses a strategy, plans a queue under policy and runs it.
// Failures before the run starts are reported to em as a fatal event.
func (p *Pipeline) Resume(ctx context.Context, strategyID int64, policy resume.Policy, em progress.Emitter) (*progress.Summary, error) {
	if em == nil {
		em = progress.Discard
	}

	q, _, err := p.DryRun(ctx, strategyID, policy)
	if err != nil {
		em.Emit(progress.Event{Type: progress.TypeFatal, Message: err.Error()})
		return nil, err
	}
	if q.Len() > 0 && p.engineErr != nil {
		em.Emit(progress.Event{Type: progress.TypeFatal, Message: p.engineErr.Error()})
		return nil, p.engineErr
	}

	p.logger.Info("resuming strategy",
		zap.Int64("strategy_id", strategyID),
		zap.Int("queued", q.Len()),
		zap.Any("reasons", q.Counts()),
	)
	return p.orchestrator.Run(ctx, q, em)
}

// Generate produces the strategy's planned articles and nothing else.
func (p *Pipeline) Generate(ctx context.Context, strategyID int64, em progress.Emitter) (*progress.Summary, error) {
	return p.Resume(ctx, strategyID, resume.Policy{GeneratePlanned: true, SkipGenerated: true}, em)
}

// ResumeAll resumes every strategy, up to batch.max_concurrent_strategies
// at a time. A strategy that fails does not stop the others; its error is
// in its BatchResult. emitterFor may be nil.
func (p *Pipeline) ResumeAll(ctx context.Context, policy resume.Policy, emitterFor func(database.Strategy) progress.Emitter) ([]BatchResult, error) {
	strategies, err := p.db.ListStrategies()
	if err != nil {
		return nil, fmt.Errorf("listing strategies: %w", err)
	}

	limit := int64(p.cfg.Batch.MaxConcurrentStrategies)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)
	results := make([]BatchResult, len(strategies))

	var g errgroup.Group
	for i, s := range strategies {
		results[i] = BatchResult{StrategyID: s.ID, Name: s.Name}
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(strategies); j++ {
				results[j] = BatchResult{StrategyID: strategies[j].ID, Name: strategies[j].Name, Err: err}
			}
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			var em progress.Emitter
			if emitterFor != nil {
				em = emitterFor(s)
			}
			sum, err := p.Resume(ctx, s.ID, policy, em)
			results[i].Summary = sum
			results[i].Err = err
			if err != nil {
				p.logger.Warn("strategy resume failed", zap.String("strategy", s.Name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
