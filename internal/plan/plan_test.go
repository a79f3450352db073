package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `
name: Home Espresso
description: Everything about making espresso at home
audience: hobby baristas
feeds:
  - https://example.com/feed
sources:
  - https://example.com/dialing-in
pillars:
  - title: The Complete Guide to Home Espresso
    clusters:
      - Choosing a Grinder
      - Dialing In
  - title: Milk Steaming Fundamentals
    clusters:
      - Latte Art Basics
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0o644))

	ns, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Home Espresso", ns.Name)
	assert.Equal(t, "hobby baristas", ns.Audience)
	assert.Equal(t, []string{"https://example.com/feed"}, ns.Feeds)
	assert.Equal(t, []string{"https://example.com/dialing-in"}, ns.Sources)
	require.Len(t, ns.Pillars, 2)
	assert.Equal(t, []string{"Choosing a Grinder", "Dialing In"}, ns.Pillars[0].Clusters)
	assert.Empty(t, ns.Pillars[1].Clusters[1:])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsInvalidPlans(t *testing.T) {
	cases := map[string]string{
		"no name":          "pillars:\n  - title: A\n",
		"no pillars":       "name: X\n",
		"empty pillar":     "name: X\npillars:\n  - title: ''\n",
		"empty cluster":    "name: X\npillars:\n  - title: A\n    clusters: ['']\n",
		"duplicate titles": "name: X\npillars:\n  - title: A\n    clusters: [B]\n  - title: b\n",
		"bad yaml":         "name: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
