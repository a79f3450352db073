// Package engine produces article markdown through an LLM provider.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/llm"
	"github.com/TobiSchelling/ContentForge/internal/quality"
)

// ErrEngineFailure marks a generation call that failed or produced nothing usable.
var ErrEngineFailure = errors.New("engine failure")

// Engine generates the body of one article.
type Engine interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Request describes the article to write.
type Request struct {
	Kind        database.Kind
	Title       string
	ParentTitle string
	TargetWords int
	Strategy    StrategyContext
	Research    []string
}

// StrategyContext is the campaign the article belongs to.
type StrategyContext struct {
	Name        string
	Description string
	Audience    string
}

// Result is the engine output.
type Result struct {
	Content      string
	WordCount    int
	QualityScore int
}

const pillarPrompt = `You are writing a pillar article for the content strategy "%s".
%s
A pillar article is the comprehensive, authoritative hub page for its topic. Other articles will link to it.

Title: %s
Target length: about %d words.

Structure it with an introduction, at least five H2 sections with H3 subsections where useful, and a conclusion. Use markdown. Do not wrap the article in a code block.
%s
Respond with ONLY this JSON:
{
    "content_markdown": "The full article in markdown",
    "quality_score": 0-100 self-assessment of depth, accuracy and readability
}`

const clusterPrompt = `You are writing a cluster article for the content strategy "%s".
%s
A cluster article covers one specific subtopic in depth and supports the pillar article "%s".

Title: %s
Target length: about %d words.

Use markdown with H2 sections. Mention how the topic relates to the pillar article. Do not wrap the article in a code block.
%s
Respond with ONLY this JSON:
{
    "content_markdown": "The full article in markdown",
    "quality_score": 0-100 self-assessment of depth, accuracy and readability
}`

// LLMEngine generates articles with an LLM provider.
type LLMEngine struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMEngine creates an engine. maxTokens caps the provider reply.
func NewLLMEngine(provider llm.Provider, maxTokens int) *LLMEngine {
	return &LLMEngine{provider: provider, maxTokens: maxTokens}
}

// Generate writes one article. Provider errors and empty replies are
// returned wrapping ErrEngineFailure.
func (e *LLMEngine) Generate(ctx context.Context, req Request) (*Result, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("no LLM provider configured: %w", ErrEngineFailure)
	}

	responseText, err := e.provider.Generate(ctx, buildPrompt(req), e.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}

	var content string
	score := -1
	if parsed := llm.ParseJSONResponse(responseText); parsed != nil {
		content = getStr(parsed, "content_markdown", "")
		score = getScore(parsed, "quality_score")
	} else {
		content = strings.TrimSpace(responseText)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrEngineFailure)
	}

	words := quality.CountWords(content)
	if score < 0 {
		score = heuristicScore(content, words, req.TargetWords)
	}
	return &Result{Content: content, WordCount: words, QualityScore: score}, nil
}

func buildPrompt(req Request) string {
	audience := ""
	if req.Strategy.Audience != "" {
		audience = fmt.Sprintf("Audience: %s.\n", req.Strategy.Audience)
	}
	if req.Strategy.Description != "" {
		audience += req.Strategy.Description + "\n"
	}

	research := ""
	if len(req.Research) > 0 {
		research = "\nRecent material you may draw on (cite nothing you cannot verify):\n- " +
			strings.Join(req.Research, "\n- ") + "\n"
	}

	if req.Kind == database.KindCluster {
		parent := req.ParentTitle
		if parent == "" {
			parent = req.Strategy.Name
		}
		return fmt.Sprintf(clusterPrompt, req.Strategy.Name, audience, parent, req.Title, req.TargetWords, research)
	}
	return fmt.Sprintf(pillarPrompt, req.Strategy.Name, audience, req.Title, req.TargetWords, research)
}

// heuristicScore rates raw markdown when the model did not score itself:
// length against target and section structure, each worth half.
func heuristicScore(content string, words, target int) int {
	lengthPart := 50.0
	if target > 0 {
		lengthPart = 50 * math.Min(float64(words)/float64(target), 1)
	}

	sections := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "## ") {
			sections++
		}
	}
	structurePart := 10.0 * math.Min(float64(sections), 5)

	return int(math.Round(lengthPart + structurePart))
}

func getStr(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func getScore(m map[string]any, key string) int {
	v, ok := m[key].(float64)
	if !ok {
		return -1
	}
	return int(math.Max(0, math.Min(100, math.Round(v))))
}
