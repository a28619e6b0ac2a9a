// Package domain contains core business entities and types for diabetic
// retinopathy screening submissions.
//
// Severity grading follows the International Clinical Diabetic Retinopathy
// severity scale: index 0 = no retinopathy, 3 = proliferative (most severe).
package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SeverityTier represents the clinical severity of a single finding.
type SeverityTier string

const (
	TierNormal   SeverityTier = "normal"
	TierModerate SeverityTier = "moderate"
	TierSevere   SeverityTier = "severe"
	TierCritical SeverityTier = "critical"
	TierUnknown  SeverityTier = "unknown"
)

// Gender represents patient gender as captured on the intake form.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// Severity index domain bounds.
const (
	SeverityIndexMin = 0
	SeverityIndexMax = 3
)

// IsValid validates the severity tier. TierUnknown is a valid member of the
// domain: it exists so display code can render a value the rule tables have
// never seen without failing.
func (t SeverityTier) IsValid() bool {
	switch t {
	case TierNormal, TierModerate, TierSevere, TierCritical, TierUnknown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the tier.
func (t SeverityTier) String() string {
	return string(t)
}

// IsValid validates the gender enum.
func (g Gender) IsValid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	default:
		return false
	}
}

// ValidSeverityIndex reports whether idx is inside the declared 0..3 domain.
func ValidSeverityIndex(idx int) bool {
	return idx >= SeverityIndexMin && idx <= SeverityIndexMax
}

// ReportID is the client-generated correlation token attached to a submission
// and echoed back by the diagnostic service. It is opaque: the only required
// property is equality comparison.
type ReportID string

// NewReportID generates a collision-resistant report identifier. The display
// form is "#NNNNN" (the format patients see on printed reports); the digits
// are folded from a UUID rather than drawn from a bare counter.
func NewReportID() ReportID {
	id := uuid.New()
	var n uint32
	for _, b := range id[:] {
		n = n*31 + uint32(b)
	}
	return ReportID(fmt.Sprintf("#%05d", n%100000))
}

// IsZero reports whether the identifier is unset.
func (r ReportID) IsZero() bool {
	return r == ""
}

// String returns the display form of the identifier.
func (r ReportID) String() string {
	return string(r)
}

// PatientRecord holds identity and demographics for one screening encounter.
// The same record may be reused across submission attempts; it must not be
// edited while a submission is in flight.
type PatientRecord struct {
	Name      string `json:"name"`
	Age       int    `json:"age"`
	Gender    Gender `json:"gender"`
	PatientID string `json:"patient_id,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Validate checks the fields required before a submission may leave the
// client. Phone and email are intentionally unvalidated free text.
func (p *PatientRecord) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return NewValidationError("name", "patient name is required", p.Name)
	}
	if p.Age <= 0 {
		return NewValidationError("age", "patient age must be a positive integer", p.Age)
	}
	if p.Gender != "" && !p.Gender.IsValid() {
		return NewValidationError("gender", "unrecognized gender value", string(p.Gender))
	}
	return nil
}

// GeneratePatientID produces a facility-local patient identifier of the form
// VEC-NNNNNNNNN: the last six digits of the current epoch milliseconds plus a
// three-digit random suffix.
func GeneratePatientID() string {
	millis := fmt.Sprintf("%d", time.Now().UnixMilli())
	if len(millis) > 6 {
		millis = millis[len(millis)-6:]
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		// crypto/rand failing is effectively unreachable; an ID helper does
		// not propagate errors.
		n = big.NewInt(0)
	}
	return fmt.Sprintf("VEC-%s%03d", millis, n.Int64())
}

// DetailBreakdown carries the per-category percentages the classifier reports
// for a positive screening. Only meaningful when the result is not safe.
type DetailBreakdown struct {
	Moderate int `json:"moderate"`
	Severe   int `json:"severe"`
	PDR      int `json:"pdr"`
}

// ClassificationResult is the diagnostic service's response for one
// submission. Results are never mutated in place; a new submission produces a
// new result. DocumentRef may be filled by a later fetch because the backing
// report document is generated asynchronously.
type ClassificationResult struct {
	ReportID      ReportID         `json:"report_id"`
	IsSafe        bool             `json:"is_safe"`
	Grade         string           `json:"grade"`
	SeverityIndex int              `json:"severity_index"`
	RiskScore     int              `json:"risk_score"`
	Details       *DetailBreakdown `json:"details,omitempty"`
	DocumentRef   string           `json:"pdf_url,omitempty"`
	ReceivedAt    time.Time        `json:"received_at"`
}

// Validate ensures the result meets the data model before it is accepted into
// the workflow. A disagreement between IsSafe and SeverityIndex is a data
// inconsistency and is rejected here rather than silently resolved in favor
// of either field.
func (c *ClassificationResult) Validate() error {
	if c.ReportID.IsZero() {
		return fmt.Errorf("classification result: %w", errors.New("report_id is required"))
	}
	if !ValidSeverityIndex(c.SeverityIndex) {
		return fmt.Errorf("classification result: %w: got %d", ErrInvalidSeverityIndex, c.SeverityIndex)
	}
	if c.IsSafe != (c.SeverityIndex == 0) {
		return fmt.Errorf("classification result: %w: is_safe=%t severity_index=%d",
			ErrInconsistentResult, c.IsSafe, c.SeverityIndex)
	}
	if c.RiskScore < 0 || c.RiskScore > 100 {
		return fmt.Errorf("classification result: %w: risk_score %d out of range", ErrMalformedResponse, c.RiskScore)
	}
	return nil
}

// HasDocument reports whether the generated report document is available yet.
// An absent reference means "generation in progress", never an error.
func (c *ClassificationResult) HasDocument() bool {
	return c.DocumentRef != ""
}

// ClinicalFinding is one structured observation derived from the
// classification. Findings are never persisted; they are recomputed from
// (IsSafe, SeverityIndex) on every render.
type ClinicalFinding struct {
	Label  string       `json:"label"`
	Status string       `json:"status"`
	Detail string       `json:"detail"`
	Tier   SeverityTier `json:"severity"`
}

// HistoryEntry is one archived encounter in the records list.
type HistoryEntry struct {
	ReportID      ReportID  `json:"report_id"`
	PatientName   string    `json:"name"`
	Age           int       `json:"age"`
	Gender        Gender    `json:"gender"`
	IsSafe        bool      `json:"is_safe"`
	Grade         string    `json:"grade"`
	SeverityIndex int       `json:"severity_index"`
	RiskScore     int       `json:"risk_score"`
	DocumentRef   string    `json:"pdf_url,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	// Optimistic marks a locally appended entry that has not yet been
	// confirmed by the archive. Cleared when the authoritative copy arrives.
	Optimistic bool `json:"-"`
}

// EntryFromResult builds the optimistic history entry recorded immediately
// after a successful local submission.
func EntryFromResult(record PatientRecord, result ClassificationResult) HistoryEntry {
	return HistoryEntry{
		ReportID:      result.ReportID,
		PatientName:   record.Name,
		Age:           record.Age,
		Gender:        record.Gender,
		IsSafe:        result.IsSafe,
		Grade:         result.Grade,
		SeverityIndex: result.SeverityIndex,
		RiskScore:     result.RiskScore,
		DocumentRef:   result.DocumentRef,
		Timestamp:     time.Now().UTC(),
		Optimistic:    true,
	}
}
