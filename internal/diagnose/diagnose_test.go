package diagnose

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/quality"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func testThresholds() quality.Thresholds {
	return quality.Thresholds{
		TargetWords:     map[string]int{"pillar": 100, "cluster": 50},
		MinQualityScore: 70,
		CorruptionFloor: 0.4,
		LowQualityFloor: 0.8,
		StuckAfter:      30 * time.Minute,
	}
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.WithClock(func() time.Time { return testNow })
}

func content(words int) string {
	return "# Heading\n\n" + strings.TrimSpace(strings.Repeat("word ", words)) + "\n"
}

func ptr[T any](v T) *T { return &v }

// seedScenario plans 14 articles and leaves 2 generated, 1 corrupted, 1
// stuck and 10 planned.
func seedScenario(t *testing.T, db *database.DB) (*database.Strategy, []database.Article) {
	t.Helper()
	var clusters []string
	for i := 1; i <= 12; i++ {
		clusters = append(clusters, fmt.Sprintf("Cluster %d", i))
	}
	s, err := db.CreateStrategy(database.NewStrategy{
		Name: "Scenario",
		Pillars: []database.NewPillar{
			{Title: "Pillar A", Clusters: clusters[:6]},
			{Title: "Pillar B", Clusters: clusters[6:]},
		},
	})
	require.NoError(t, err)
	articles, err := db.ListByStrategy(s.ID)
	require.NoError(t, err)
	require.Len(t, articles, 14)

	generate(t, db, articles[0].ID, content(120), 90)
	generate(t, db, articles[1].ID, content(60), 85)

	_, err = db.Transition(articles[2].ID, database.StagePlanned, database.StageGenerating, nil)
	require.NoError(t, err)
	_, err = db.Transition(articles[2].ID, database.StageGenerating, database.StageCorrupted,
		&database.Patch{Issues: []string{"engine_failure"}})
	require.NoError(t, err)

	stale := db.WithClock(func() time.Time { return testNow.Add(-2 * time.Hour) })
	_, err = stale.Transition(articles[3].ID, database.StagePlanned, database.StageGenerating, nil)
	require.NoError(t, err)

	return s, articles
}

func generate(t *testing.T, db *database.DB, id int64, body string, score int) {
	t.Helper()
	_, err := db.Transition(id, database.StagePlanned, database.StageGenerating, nil)
	require.NoError(t, err)
	_, err = db.Transition(id, database.StageGenerating, database.StageGenerated, &database.Patch{
		Content:      &body,
		WordCount:    ptr(quality.CountWords(body)),
		QualityScore: &score,
	})
	require.NoError(t, err)
}

func newAnalyzer(db *database.DB) *Analyzer {
	return NewAnalyzer(db, testThresholds(), nil).WithClock(func() time.Time { return testNow })
}

func TestAnalyzeScenario(t *testing.T) {
	db := openTestDB(t)
	s, articles := seedScenario(t, db)

	d, err := newAnalyzer(db).Analyze(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, 14, d.Total)
	assert.Equal(t, 14, d.Target)
	assert.Equal(t, 10, d.Count(ClassPlanned))
	assert.Equal(t, 2, d.Count(ClassGenerated))
	assert.Equal(t, 1, d.Count(ClassCorrupted))
	assert.Equal(t, 1, d.Count(ClassStuck))
	assert.Equal(t, 0, d.Count(ClassInFlight))
	assert.Equal(t, 0, d.LowQuality)

	assert.Equal(t, 10, d.Stages[database.StagePlanned])
	assert.Equal(t, 1, d.Stages[database.StageGenerating])

	require.Len(t, d.Findings, 14)
	for i, f := range d.Findings {
		assert.Equal(t, articles[i].ID, f.ArticleID, "findings keep creation order")
	}
	assert.Equal(t, ClassStuck, d.Findings[3].Class)

	require.NotEmpty(t, d.Actions)
	assert.Equal(t, "Regenerate 1 corrupted article", d.Actions[0])
	assert.Contains(t, d.Actions[1], "Reset 1 article stuck")
	assert.Equal(t, "Generate 10 planned articles", d.Actions[len(d.Actions)-1])
}

func TestAnalyzeIsIdempotentAndReadOnly(t *testing.T) {
	db := openTestDB(t)
	s, _ := seedScenario(t, db)
	before, err := db.ListByStrategy(s.ID)
	require.NoError(t, err)

	a := newAnalyzer(db)
	first, err := a.Analyze(context.Background(), s.ID)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	after, err := db.ListByStrategy(s.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAnalyzeReclassifiesBrokenGeneratedContent(t *testing.T) {
	db := openTestDB(t)
	s, err := db.CreateStrategy(database.NewStrategy{
		Name:    "Broken",
		Pillars: []database.NewPillar{{Title: "P", Clusters: []string{"Short", "Fence"}}},
	})
	require.NoError(t, err)
	articles, _ := db.ListByStrategy(s.ID)

	generate(t, db, articles[0].ID, content(120), 90)
	generate(t, db, articles[1].ID, content(10), 90)
	generate(t, db, articles[2].ID, content(60)+"\n```\nunterminated\n", 90)

	d, err := newAnalyzer(db).Analyze(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, d.Stages[database.StageGenerated], "persisted stage is untouched")
	assert.Equal(t, 1, d.Count(ClassGenerated))
	assert.Equal(t, 2, d.Count(ClassCorrupted))
	assert.Contains(t, d.Findings[1].Issues, quality.IssueBelowCorruption)
	assert.Contains(t, d.Findings[2].Issues, quality.IssueUnclosedFence)

	a, _ := db.GetArticle(articles[1].ID)
	assert.Equal(t, database.StageGenerated, a.Stage)
}

func TestAnalyzeFreshGeneratingIsInFlight(t *testing.T) {
	db := openTestDB(t)
	s, err := db.CreateStrategy(database.NewStrategy{
		Name:    "Busy",
		Pillars: []database.NewPillar{{Title: "P"}},
	})
	require.NoError(t, err)
	articles, _ := db.ListByStrategy(s.ID)

	recent := db.WithClock(func() time.Time { return testNow.Add(-time.Minute) })
	_, err = recent.Transition(articles[0].ID, database.StagePlanned, database.StageGenerating, nil)
	require.NoError(t, err)

	d, err := newAnalyzer(db).Analyze(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, d.Count(ClassInFlight))
	assert.Equal(t, 0, d.Count(ClassStuck))
	assert.Contains(t, d.Actions[0], "currently being generated")
}

func TestAnalyzeFlagsLowQuality(t *testing.T) {
	db := openTestDB(t)
	s, err := db.CreateStrategy(database.NewStrategy{
		Name:    "Quality",
		Pillars: []database.NewPillar{{Title: "P", Clusters: []string{"Thin", "Weak"}}},
	})
	require.NoError(t, err)
	articles, _ := db.ListByStrategy(s.ID)

	generate(t, db, articles[0].ID, content(120), 90)
	generate(t, db, articles[1].ID, content(30), 90)
	generate(t, db, articles[2].ID, content(60), 50)

	d, err := newAnalyzer(db).Analyze(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, d.Count(ClassGenerated))
	assert.Equal(t, 2, d.LowQuality)
	assert.False(t, d.Findings[0].LowQuality)
	assert.True(t, d.Findings[1].LowQuality)
	assert.True(t, d.Findings[2].LowQuality)
}

func TestAnalyzeNothingToDo(t *testing.T) {
	db := openTestDB(t)
	s, err := db.CreateStrategy(database.NewStrategy{
		Name:    "Done",
		Pillars: []database.NewPillar{{Title: "P"}},
	})
	require.NoError(t, err)
	articles, _ := db.ListByStrategy(s.ID)
	generate(t, db, articles[0].ID, content(120), 90)
	_, err = db.MarkPublished(articles[0].ID)
	require.NoError(t, err)

	d, err := newAnalyzer(db).Analyze(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, d.Count(ClassPublished))
	assert.Equal(t, []string{"Nothing to do: all 1 articles are generated or published"}, d.Actions)
}

func TestAnalyzeMissingStrategy(t *testing.T) {
	db := openTestDB(t)
	_, err := newAnalyzer(db).Analyze(context.Background(), 99)
	assert.True(t, errors.Is(err, database.ErrNotFound))
}
