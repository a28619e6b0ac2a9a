package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retina-screening-gateway/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEntries() []domain.HistoryEntry {
	now := time.Now().UTC().Truncate(time.Second)
	return []domain.HistoryEntry{
		{
			ReportID:      "#22222",
			PatientName:   "Asha",
			Age:           54,
			Gender:        domain.GenderFemale,
			IsSafe:        false,
			Grade:         "Severe NPDR",
			SeverityIndex: 2,
			RiskScore:     68,
			DocumentRef:   "https://cdn.example/22222.pdf",
			Timestamp:     now,
		},
		{
			ReportID:      "#11111",
			PatientName:   "Ravi",
			Age:           61,
			Gender:        domain.GenderMale,
			IsSafe:        true,
			Grade:         "No DR",
			SeverityIndex: 0,
			RiskScore:     3,
			Timestamp:     now.Add(-time.Hour),
		},
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceAll(ctx, sampleEntries()))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, domain.ReportID("#22222"), loaded[0].ReportID, "newest first")
	assert.Equal(t, "Asha", loaded[0].PatientName)
	assert.Equal(t, domain.GenderFemale, loaded[0].Gender)
	assert.False(t, loaded[0].IsSafe)
	assert.Equal(t, 2, loaded[0].SeverityIndex)
	assert.Equal(t, "https://cdn.example/22222.pdf", loaded[0].DocumentRef)

	assert.Equal(t, domain.ReportID("#11111"), loaded[1].ReportID)
	assert.True(t, loaded[1].IsSafe)
}

func TestSQLiteReplaceAllIsWholesale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceAll(ctx, sampleEntries()))

	replacement := []domain.HistoryEntry{{
		ReportID:    "#33333",
		PatientName: "Meena",
		Age:         47,
		Timestamp:   time.Now().UTC(),
	}}
	require.NoError(t, store.ReplaceAll(ctx, replacement))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, domain.ReportID("#33333"), loaded[0].ReportID)
}

func TestSQLiteEmptySnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceAll(ctx, nil))
	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
