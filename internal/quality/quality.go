// Package quality judges generated article markdown against the configured
// length and score thresholds.
package quality

import (
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Issue tags recorded on articles.
const (
	IssueEmptyBody       = "empty_body"
	IssueUnclosedFence   = "unclosed_code_fence"
	IssueUnbalancedHTML  = "unbalanced_html"
	IssueBelowCorruption = "below_corruption_floor"
	IssueBelowWordFloor  = "below_word_floor"
	IssueLowScore        = "low_quality_score"
	IssueNoHeadings      = "no_headings"
)

// Thresholds are the knobs used to classify article content.
type Thresholds struct {
	TargetWords     map[string]int
	MinQualityScore int
	CorruptionFloor float64
	LowQualityFloor float64
	StuckAfter      time.Duration
}

// Target returns the target word count for a kind, or 0 when unknown.
func (t Thresholds) Target(kind string) int {
	return t.TargetWords[kind]
}

// CorruptionWords is the word count below which content counts as corrupted.
func (t Thresholds) CorruptionWords(kind string) int {
	return int(float64(t.Target(kind)) * t.CorruptionFloor)
}

// LowQualityWords is the word count below which content counts as low quality.
func (t Thresholds) LowQualityWords(kind string) int {
	return int(float64(t.Target(kind)) * t.LowQualityFloor)
}

// IsStuck reports whether an article last touched at updated has sat in
// generation longer than StuckAfter.
func (t Thresholds) IsStuck(updated, now time.Time) bool {
	return now.Sub(updated) > t.StuckAfter
}

// Report is the outcome of checking one piece of content.
type Report struct {
	WordCount int
	Headings  int
	Issues    []string
	// Valid is false when the markdown is structurally broken.
	Valid bool
	// Short is set when the body is below the corruption floor.
	Short      bool
	LowQuality bool
}

// Corrupt reports whether the content should be treated as corrupted.
func (r Report) Corrupt() bool {
	return !r.Valid || r.Short
}

var md = goldmark.New()

var htmlTag = regexp.MustCompile(`(?i)<(/?)(div|section|article|table|details|blockquote|ul|ol|pre|figure|aside)\b[^>]*?(/?)>`)

// Check inspects markdown content of the given kind. score is the quality
// score the engine assigned to it.
func Check(content, kind string, score int, th Thresholds) Report {
	r := Report{Valid: true}

	if strings.TrimSpace(content) == "" {
		r.Valid = false
		r.Short = th.Target(kind) > 0
		r.LowQuality = true
		r.Issues = append(r.Issues, IssueEmptyBody)
		return r
	}

	if hasUnclosedFence(content) {
		r.Valid = false
		r.Issues = append(r.Issues, IssueUnclosedFence)
	}
	if hasUnbalancedHTML(content) {
		r.Valid = false
		r.Issues = append(r.Issues, IssueUnbalancedHTML)
	}

	src := []byte(content)
	doc := md.Parser().Parse(text.NewReader(src))
	r.WordCount, r.Headings = countWords(doc, src)

	if r.WordCount == 0 {
		r.Valid = false
		r.Issues = append(r.Issues, IssueEmptyBody)
	}
	if r.Headings == 0 {
		r.Issues = append(r.Issues, IssueNoHeadings)
	}

	if th.Target(kind) > 0 {
		if r.WordCount < th.CorruptionWords(kind) {
			r.Short = true
			r.Issues = append(r.Issues, IssueBelowCorruption)
		} else if r.WordCount < th.LowQualityWords(kind) {
			r.LowQuality = true
			r.Issues = append(r.Issues, IssueBelowWordFloor)
		}
	}
	if score < th.MinQualityScore {
		r.LowQuality = true
		r.Issues = append(r.Issues, IssueLowScore)
	}
	if r.Short {
		r.LowQuality = true
	}
	return r
}

// CountWords returns the number of prose words in markdown content.
func CountWords(content string) int {
	src := []byte(content)
	n, _ := countWords(md.Parser().Parse(text.NewReader(src)), src)
	return n
}

func countWords(doc ast.Node, src []byte) (words, headings int) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			headings++
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			words += len(strings.Fields(string(node.Segment.Value(src))))
		}
		return ast.WalkContinue, nil
	})
	return words, headings
}

func hasUnclosedFence(content string) bool {
	var open string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if open == "" {
			switch {
			case strings.HasPrefix(trimmed, "```"):
				open = "```"
			case strings.HasPrefix(trimmed, "~~~"):
				open = "~~~"
			}
			continue
		}
		if strings.HasPrefix(trimmed, open) && strings.Trim(trimmed, open[:1]) == "" {
			open = ""
		}
	}
	return open != ""
}

func hasUnbalancedHTML(content string) bool {
	depth := map[string]int{}
	for _, m := range htmlTag.FindAllStringSubmatch(stripFences(content), -1) {
		closing, tag, selfClosing := m[1] == "/", strings.ToLower(m[2]), m[3] == "/"
		switch {
		case selfClosing:
		case closing:
			depth[tag]--
			if depth[tag] < 0 {
				return true
			}
		default:
			depth[tag]++
		}
	}
	for _, d := range depth {
		if d != 0 {
			return true
		}
	}
	return false
}

// stripFences drops fenced code so HTML shown as an example is not counted.
func stripFences(content string) string {
	var b strings.Builder
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if !inFence {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
