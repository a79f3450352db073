package resume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/diagnose"
)

func finding(id int64, stage database.Stage, class diagnose.Class, lowQuality bool) diagnose.Finding {
	return diagnose.Finding{
		ArticleID:  id,
		Title:      "Article",
		Kind:       database.KindCluster,
		Stage:      stage,
		Class:      class,
		LowQuality: lowQuality,
	}
}

// scenario mirrors 2 generated, 1 corrupted, 1 stuck and 10 planned articles,
// created in that order.
func scenario() *diagnose.Diagnosis {
	d := &diagnose.Diagnosis{StrategyID: 7}
	d.Findings = append(d.Findings,
		finding(1, database.StageGenerated, diagnose.ClassGenerated, false),
		finding(2, database.StageGenerated, diagnose.ClassGenerated, false),
		finding(3, database.StageCorrupted, diagnose.ClassCorrupted, false),
		finding(4, database.StageGenerating, diagnose.ClassStuck, false),
	)
	for id := int64(5); id <= 14; id++ {
		d.Findings = append(d.Findings, finding(id, database.StagePlanned, diagnose.ClassPlanned, false))
	}
	return d
}

func ids(q *Queue) []int64 {
	out := make([]int64, 0, len(q.Items))
	for _, it := range q.Items {
		out = append(out, it.ArticleID)
	}
	return out
}

func TestPlanScenario(t *testing.T) {
	q := Plan(scenario(), DefaultPolicy())

	require.Equal(t, 12, q.Len())
	assert.Equal(t, int64(7), q.StrategyID)
	assert.Equal(t, []int64{3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, ids(q))

	assert.Equal(t, ReasonCorrupted, q.Items[0].Reason)
	assert.False(t, q.Items[0].ResetFirst)
	assert.Equal(t, ReasonStuck, q.Items[1].Reason)
	assert.True(t, q.Items[1].ResetFirst)
	assert.Equal(t, database.StageGenerating, q.Items[1].ExpectedStage)
	for _, it := range q.Items[2:] {
		assert.Equal(t, ReasonPlanned, it.Reason)
		assert.False(t, it.ResetFirst)
	}

	assert.Equal(t, map[Reason]int{ReasonCorrupted: 1, ReasonStuck: 1, ReasonPlanned: 10}, q.Counts())
}

func TestPlanFirstMatchWins(t *testing.T) {
	d := &diagnose.Diagnosis{Findings: []diagnose.Finding{
		finding(1, database.StagePlanned, diagnose.ClassPlanned, false),
		finding(2, database.StageCorrupted, diagnose.ClassCorrupted, true),
		finding(3, database.StageGenerating, diagnose.ClassStuck, true),
		finding(4, database.StageGenerated, diagnose.ClassGenerated, true),
	}}
	all := Policy{RegenerateCorrupted: true, ResetStuck: true, GeneratePlanned: true, FixLowQuality: true}

	q := Plan(d, all)

	assert.Equal(t, []int64{2, 3, 4, 1}, ids(q))
	assert.Equal(t, ReasonCorrupted, q.Items[0].Reason)
	assert.Equal(t, ReasonStuck, q.Items[1].Reason)
	assert.Equal(t, ReasonLowQuality, q.Items[2].Reason)
	assert.True(t, q.Items[2].ResetFirst)
	assert.Equal(t, ReasonPlanned, q.Items[3].Reason)
}

func TestPlanNoDuplicatesForAnyPolicy(t *testing.T) {
	d := scenario()
	d.Findings[0].LowQuality = true
	d.Findings[2].LowQuality = true
	d.Findings[3].LowQuality = true

	for mask := 0; mask < 32; mask++ {
		p := Policy{
			RegenerateCorrupted: mask&1 != 0,
			ResetStuck:          mask&2 != 0,
			GeneratePlanned:     mask&4 != 0,
			SkipGenerated:       mask&8 != 0,
			FixLowQuality:       mask&16 != 0,
		}
		q := Plan(d, p)
		seen := map[int64]bool{}
		for _, it := range q.Items {
			assert.False(t, seen[it.ArticleID], "policy %+v queued %d twice", p, it.ArticleID)
			seen[it.ArticleID] = true
		}
	}
}

func TestPlanSkipGenerated(t *testing.T) {
	d := scenario()

	q := Plan(d, Policy{SkipGenerated: true})
	assert.Empty(t, q.Items)

	q = Plan(d, Policy{SkipGenerated: false})
	assert.Equal(t, []int64{1, 2}, ids(q))
	for _, it := range q.Items {
		assert.Equal(t, ReasonRegenerate, it.Reason)
		assert.True(t, it.ResetFirst)
	}
}

func TestPlanLowQualityOverridesSkipGenerated(t *testing.T) {
	d := scenario()
	d.Findings[1].LowQuality = true

	q := Plan(d, Policy{SkipGenerated: true, FixLowQuality: true})

	assert.Equal(t, []int64{2}, ids(q))
	assert.Equal(t, ReasonLowQuality, q.Items[0].Reason)
}

func TestPlanNeverQueuesInFlightOrPublished(t *testing.T) {
	d := &diagnose.Diagnosis{Findings: []diagnose.Finding{
		finding(1, database.StageGenerating, diagnose.ClassInFlight, false),
		finding(2, database.StagePublished, diagnose.ClassPublished, true),
	}}
	all := Policy{RegenerateCorrupted: true, ResetStuck: true, GeneratePlanned: true, FixLowQuality: true}

	q := Plan(d, all)
	assert.Empty(t, q.Items)
}

func TestPlanEmptyQueueIsNotNil(t *testing.T) {
	q := Plan(&diagnose.Diagnosis{}, DefaultPolicy())
	require.NotNil(t, q)
	assert.Equal(t, 0, q.Len())
	assert.NotNil(t, q.Items)
}

func TestPlanIsDeterministic(t *testing.T) {
	d := scenario()
	assert.Equal(t, Plan(d, DefaultPolicy()), Plan(d, DefaultPolicy()))
}
