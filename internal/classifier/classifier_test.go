package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/findadoc-tester/internal/provider"
)

func TestClassifyFirstTermWins(t *testing.T) {
	t.Parallel()

	records := []provider.Record{{
		Name:     "Dr. Heart",
		FullText: "dr. heart cardiac care and heart health",
	}}

	got := Classify(records, []string{"heart", "cardiac"})
	require.Equal(t, "heart", got.Providers[0].MatchedTerm)

	got = Classify(records, []string{"cardiac", "heart"})
	require.Equal(t, "cardiac", got.Providers[0].MatchedTerm)
}

func TestClassifyMatchesSpecialtyLabel(t *testing.T) {
	t.Parallel()

	records := []provider.Record{{
		Name:      "Dr. Skin",
		Specialty: "Dermatology",
		FullText:  "",
	}}
	got := Classify(records, []string{"DERMATOLOGY"})
	require.True(t, got.Providers[0].Relevant)
	require.Equal(t, "dermatology", got.Providers[0].MatchedTerm)
}

func TestClassifyCountsAndAccuracy(t *testing.T) {
	t.Parallel()

	records := []provider.Record{
		{Name: "A", FullText: "cardiologist at unc"},
		{Name: "B", FullText: "family medicine"},
		{Name: "C", FullText: "orthopedic surgery"},
	}
	got := Classify(records, []string{"cardiology", "cardiologist"})

	require.Equal(t, 3, got.Total)
	require.Equal(t, 1, got.Relevant)
	require.Equal(t, 2, got.Irrelevant)
	require.Equal(t, 33.3, got.Accuracy)
	require.Len(t, got.Providers, got.Total)
	require.Equal(t, got.Total, got.Relevant+got.Irrelevant)
	require.False(t, got.Providers[1].Relevant)
	require.Empty(t, got.Providers[1].MatchedTerm)
}

func TestClassifyEmpty(t *testing.T) {
	t.Parallel()

	got := Classify(nil, []string{"heart"})
	require.Equal(t, 0, got.Total)
	require.Equal(t, 0, got.Relevant)
	require.Equal(t, 0, got.Irrelevant)
	require.Zero(t, got.Accuracy)
	require.Empty(t, got.Providers)
}

func TestClassifyIsIdempotent(t *testing.T) {
	t.Parallel()

	records := []provider.Record{
		{Name: "A", FullText: "pediatric clinic"},
		{Name: "B", FullText: "adult neurology"},
	}
	terms := []string{"pediatric", "child"}
	require.Equal(t, Classify(records, terms), Classify(records, terms))
}

func TestAccuracyBounds(t *testing.T) {
	t.Parallel()

	for total := 0; total <= 7; total++ {
		for relevant := 0; relevant <= total; relevant++ {
			acc := Accuracy(relevant, total)
			require.GreaterOrEqual(t, acc, 0.0)
			require.LessOrEqual(t, acc, 100.0)
		}
	}
	require.Equal(t, 66.7, Accuracy(2, 3))
	require.Equal(t, 100.0, Accuracy(4, 4))
}

func TestSnippet(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short...", Snippet("short"))
	long := strings.Repeat("x", 200)
	got := Snippet(long)
	require.Equal(t, strings.Repeat("x", 150)+"...", got)
}
