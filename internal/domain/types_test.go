package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityTierValidation(t *testing.T) {
	for _, tier := range []SeverityTier{TierNormal, TierModerate, TierSevere, TierCritical, TierUnknown} {
		assert.True(t, tier.IsValid(), "tier %s", tier)
	}
	assert.False(t, SeverityTier("mild").IsValid())
	assert.False(t, SeverityTier("").IsValid())
}

func TestValidSeverityIndex(t *testing.T) {
	for idx := 0; idx <= 3; idx++ {
		assert.True(t, ValidSeverityIndex(idx))
	}
	assert.False(t, ValidSeverityIndex(-1))
	assert.False(t, ValidSeverityIndex(4))
}

func TestNewReportIDFormat(t *testing.T) {
	id := NewReportID()
	require.False(t, id.IsZero())
	assert.True(t, strings.HasPrefix(id.String(), "#"))
	assert.Len(t, id.String(), 6)
}

func TestNewReportIDCollisionResistance(t *testing.T) {
	// Five display digits can collide; a session never issues enough IDs for
	// that to be likely. Check a small batch stays distinct.
	seen := make(map[ReportID]bool)
	for i := 0; i < 20; i++ {
		seen[NewReportID()] = true
	}
	assert.Greater(t, len(seen), 18)
}

func TestPatientRecordValidate(t *testing.T) {
	tests := []struct {
		name      string
		record    PatientRecord
		wantField string
	}{
		{"valid", PatientRecord{Name: "Asha", Age: 54, Gender: GenderFemale}, ""},
		{"valid without gender", PatientRecord{Name: "Asha", Age: 54}, ""},
		{"missing name", PatientRecord{Age: 54}, "name"},
		{"blank name", PatientRecord{Name: "   ", Age: 54}, "name"},
		{"missing age", PatientRecord{Name: "Asha"}, "age"},
		{"negative age", PatientRecord{Name: "Asha", Age: -3}, "age"},
		{"bad gender", PatientRecord{Name: "Asha", Age: 54, Gender: "N/A"}, "gender"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestGeneratePatientID(t *testing.T) {
	id := GeneratePatientID()
	assert.True(t, strings.HasPrefix(id, "VEC-"))
	assert.Len(t, id, 13)
}

func TestClassificationResultValidate(t *testing.T) {
	valid := ClassificationResult{
		ReportID:      "#12345",
		IsSafe:        false,
		Grade:         "Severe NPDR",
		SeverityIndex: 2,
		RiskScore:     68,
	}
	assert.NoError(t, valid.Validate())

	missingID := valid
	missingID.ReportID = ""
	assert.Error(t, missingID.Validate())

	outOfDomain := valid
	outOfDomain.SeverityIndex = 5
	assert.ErrorIs(t, outOfDomain.Validate(), ErrInvalidSeverityIndex)

	badScore := valid
	badScore.RiskScore = 140
	assert.ErrorIs(t, badScore.Validate(), ErrMalformedResponse)
}

func TestClassificationResultConsistency(t *testing.T) {
	// is_safe must agree with severity_index; disagreement is surfaced, not
	// silently resolved in favor of either field.
	safeButGraded := ClassificationResult{ReportID: "#1", IsSafe: true, SeverityIndex: 2, RiskScore: 10}
	assert.ErrorIs(t, safeButGraded.Validate(), ErrInconsistentResult)

	unsafeButClean := ClassificationResult{ReportID: "#2", IsSafe: false, SeverityIndex: 0, RiskScore: 10}
	assert.ErrorIs(t, unsafeButClean.Validate(), ErrInconsistentResult)

	safeClean := ClassificationResult{ReportID: "#3", IsSafe: true, SeverityIndex: 0, RiskScore: 4}
	assert.NoError(t, safeClean.Validate())
}

func TestHasDocument(t *testing.T) {
	r := ClassificationResult{}
	assert.False(t, r.HasDocument())
	r.DocumentRef = "https://cdn.example/report.pdf"
	assert.True(t, r.HasDocument())
}

func TestEntryFromResult(t *testing.T) {
	record := PatientRecord{Name: "Asha", Age: 54, Gender: GenderFemale}
	result := ClassificationResult{
		ReportID:      "#12345",
		IsSafe:        true,
		Grade:         "No DR",
		SeverityIndex: 0,
		RiskScore:     4,
	}

	entry := EntryFromResult(record, result)
	assert.Equal(t, result.ReportID, entry.ReportID)
	assert.Equal(t, "Asha", entry.PatientName)
	assert.Equal(t, 54, entry.Age)
	assert.True(t, entry.Optimistic)
	assert.False(t, entry.Timestamp.IsZero())
}
