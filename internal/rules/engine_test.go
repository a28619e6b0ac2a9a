package rules

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retina-screening-gateway/internal/domain"
)

func newTestEngine() *Engine {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewEngine(logger)
}

func TestFindingsSafeResult(t *testing.T) {
	engine := newTestEngine()

	// A clean screening yields the same six normal findings for every
	// severity index in the domain.
	for idx := 0; idx <= 3; idx++ {
		findings, err := engine.Findings(true, idx)
		require.NoError(t, err)
		require.Len(t, findings, 6)
		for _, f := range findings {
			assert.Equal(t, domain.TierNormal, f.Tier)
		}
	}

	first, err := engine.Findings(true, 0)
	require.NoError(t, err)
	second, err := engine.Findings(true, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFindingsPositiveResult(t *testing.T) {
	engine := newTestEngine()

	tests := []struct {
		name          string
		severityIndex int
		wantLen       int
		wantCritical  int
		wantSevere    int
	}{
		{"mild", 1, 5, 0, 0},
		{"severe non-proliferative", 2, 5, 0, 4},
		{"proliferative", 3, 7, 2, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := engine.Findings(false, tt.severityIndex)
			require.NoError(t, err)
			require.Len(t, findings, tt.wantLen)

			var critical, severe int
			for _, f := range findings {
				switch f.Tier {
				case domain.TierCritical:
					critical++
				case domain.TierSevere:
					severe++
				}
			}
			assert.Equal(t, tt.wantCritical, critical)
			assert.Equal(t, tt.wantSevere, severe)
		})
	}
}

func TestFindingsEscalationWording(t *testing.T) {
	engine := newTestEngine()

	mild, err := engine.Findings(false, 1)
	require.NoError(t, err)
	escalated, err := engine.Findings(false, 2)
	require.NoError(t, err)

	// Same observations in the same order, escalated language.
	for i := range mild {
		assert.Equal(t, mild[i].Label, escalated[i].Label)
	}
	assert.Equal(t, "Scattered", mild[1].Status)
	assert.Equal(t, "Extensive", escalated[1].Status)
	assert.Equal(t, "Sparse", mild[2].Status)
	assert.Equal(t, "Confluent", escalated[2].Status)
}

func TestFindingsCriticalAppendedOnlyAtThree(t *testing.T) {
	engine := newTestEngine()

	findings, err := engine.Findings(false, 3)
	require.NoError(t, err)
	require.Len(t, findings, 7)
	assert.Equal(t, "Neovascularization", findings[5].Label)
	assert.Equal(t, "Vitreous Hemorrhage", findings[6].Label)
	assert.Equal(t, domain.TierCritical, findings[5].Tier)
	assert.Equal(t, domain.TierCritical, findings[6].Tier)
}

func TestFindingsInvalidSeverityIndex(t *testing.T) {
	engine := newTestEngine()

	for _, idx := range []int{-1, 4, 42} {
		_, err := engine.Findings(false, idx)
		assert.ErrorIs(t, err, domain.ErrInvalidSeverityIndex, "index %d", idx)
		_, err = engine.Findings(true, idx)
		assert.ErrorIs(t, err, domain.ErrInvalidSeverityIndex, "index %d", idx)
	}
}

func TestRecommendationsTable(t *testing.T) {
	engine := newTestEngine()

	wantLens := map[int]int{0: 5, 1: 6, 2: 7, 3: 8}
	for idx, wantLen := range wantLens {
		advice, known := engine.Recommendations(idx)
		assert.True(t, known, "index %d", idx)
		assert.Len(t, advice, wantLen, "index %d", idx)
	}

	// Most urgent action first.
	advice, _ := engine.Recommendations(3)
	assert.Contains(t, advice[0], "48-72 hours")
	advice, _ = engine.Recommendations(2)
	assert.Contains(t, advice[0], "URGENT")
}

func TestRecommendationsDeterministic(t *testing.T) {
	engine := newTestEngine()

	for idx := 0; idx <= 3; idx++ {
		first, _ := engine.Recommendations(idx)
		second, _ := engine.Recommendations(idx)
		assert.Equal(t, first, second, "index %d", idx)
		assert.NotEmpty(t, first, "index %d", idx)
	}
}

func TestRecommendationsUnknownIndex(t *testing.T) {
	engine := newTestEngine()

	for _, idx := range []int{-1, 4, 99} {
		advice, known := engine.Recommendations(idx)
		assert.False(t, known, "index %d", idx)
		assert.Empty(t, advice, "index %d", idx)
	}
}

func TestRecommendationsCallerCannotMutateTable(t *testing.T) {
	engine := newTestEngine()

	advice, _ := engine.Recommendations(0)
	advice[0] = "tampered"

	fresh, _ := engine.Recommendations(0)
	assert.NotEqual(t, "tampered", fresh[0])
}

func TestTierColor(t *testing.T) {
	tests := []struct {
		tier domain.SeverityTier
		want string
	}{
		{domain.TierNormal, "#16a34a"},
		{domain.TierModerate, "#f59e0b"},
		{domain.TierSevere, "#dc2626"},
		{domain.TierCritical, "#991b1b"},
		{domain.TierUnknown, "#6b7280"},
		{domain.SeverityTier("bogus"), "#6b7280"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TierColor(tt.tier), "tier %s", tt.tier)
	}
}
