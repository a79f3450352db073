package quality

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testThresholds() Thresholds {
	return Thresholds{
		TargetWords:     map[string]int{"pillar": 1000, "cluster": 500},
		MinQualityScore: 70,
		CorruptionFloor: 0.4,
		LowQualityFloor: 0.8,
		StuckAfter:      30 * time.Minute,
	}
}

func body(words int) string {
	return "# Heading\n\n" + strings.TrimSpace(strings.Repeat("word ", words)) + "\n"
}

func TestCheckHealthy(t *testing.T) {
	r := Check(body(950), "pillar", 85, testThresholds())

	assert.True(t, r.Valid)
	assert.False(t, r.Short)
	assert.False(t, r.LowQuality)
	assert.False(t, r.Corrupt())
	// One heading word plus the body.
	assert.Equal(t, 951, r.WordCount)
	assert.Equal(t, 1, r.Headings)
	assert.Empty(t, r.Issues)
}

func TestCheckEmpty(t *testing.T) {
	r := Check("   \n", "cluster", 90, testThresholds())

	assert.False(t, r.Valid)
	assert.True(t, r.Corrupt())
	assert.Contains(t, r.Issues, IssueEmptyBody)
}

func TestCheckBelowCorruptionFloor(t *testing.T) {
	r := Check(body(100), "cluster", 90, testThresholds())

	assert.True(t, r.Valid)
	assert.True(t, r.Short)
	assert.True(t, r.Corrupt())
	assert.True(t, r.LowQuality)
	assert.Contains(t, r.Issues, IssueBelowCorruption)
}

func TestCheckBelowWordFloor(t *testing.T) {
	r := Check(body(300), "cluster", 90, testThresholds())

	assert.False(t, r.Corrupt())
	assert.True(t, r.LowQuality)
	assert.Contains(t, r.Issues, IssueBelowWordFloor)
}

func TestCheckLowScore(t *testing.T) {
	r := Check(body(600), "cluster", 40, testThresholds())

	assert.False(t, r.Corrupt())
	assert.True(t, r.LowQuality)
	assert.Equal(t, []string{IssueLowScore}, r.Issues)
}

func TestCheckUnclosedFence(t *testing.T) {
	content := body(600) + "\n```go\nfunc main() {}\n"
	r := Check(content, "cluster", 90, testThresholds())

	assert.False(t, r.Valid)
	assert.Contains(t, r.Issues, IssueUnclosedFence)
}

func TestCheckClosedFence(t *testing.T) {
	content := body(600) + "\n```go\nfunc main() {}\n```\n"
	r := Check(content, "cluster", 90, testThresholds())

	assert.True(t, r.Valid)
	// Code is not prose.
	assert.Equal(t, 601, r.WordCount)
}

func TestCheckUnbalancedHTML(t *testing.T) {
	content := body(600) + "\n<div class=\"note\">\n\nunfinished\n"
	r := Check(content, "cluster", 90, testThresholds())

	assert.False(t, r.Valid)
	assert.Contains(t, r.Issues, IssueUnbalancedHTML)
}

func TestCheckBalancedHTMLAndFencedExample(t *testing.T) {
	content := body(600) + "\n<details>\n<summary>More</summary>\n</details>\n\n```html\n<div>\n```\n"
	r := Check(content, "cluster", 90, testThresholds())

	assert.True(t, r.Valid)
}

func TestCheckNoHeadings(t *testing.T) {
	r := Check(strings.Repeat("word ", 600), "cluster", 90, testThresholds())

	assert.True(t, r.Valid)
	assert.Equal(t, 0, r.Headings)
	assert.Contains(t, r.Issues, IssueNoHeadings)
	assert.False(t, r.LowQuality)
}

func TestCheckUnknownKindSkipsLengthChecks(t *testing.T) {
	r := Check(body(5), "glossary", 90, testThresholds())

	assert.False(t, r.Short)
	assert.False(t, r.LowQuality)
}

func TestThresholdWords(t *testing.T) {
	th := testThresholds()
	assert.Equal(t, 400, th.CorruptionWords("pillar"))
	assert.Equal(t, 800, th.LowQualityWords("pillar"))
	assert.Equal(t, 0, th.CorruptionWords("unknown"))
}

func TestIsStuck(t *testing.T) {
	th := testThresholds()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, th.IsStuck(now.Add(-time.Hour), now))
	assert.False(t, th.IsStuck(now.Add(-time.Minute), now))
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 4, CountWords("## Two words\n\n*two more*"))
}
