// Package report composes the rule engine's output with the workflow result
// and patient record into one render-ready structure. It is the contract
// boundary between workflow state and the rule engine; it performs no network
// or mutable-state access of its own.
package report

import (
	"fmt"
	"time"

	"github.com/retina-screening-gateway/internal/domain"
	"github.com/retina-screening-gateway/internal/rules"
)

// FindingView is one clinical finding paired with its display color token.
type FindingView struct {
	domain.ClinicalFinding
	Color string `json:"color"`
}

// ReportView is the immutable structure consumed by rendering. All derived
// fields are computed at assembly time; nothing here is persisted.
type ReportView struct {
	Patient         domain.PatientRecord        `json:"patient"`
	Result          domain.ClassificationResult `json:"result"`
	Findings        []FindingView               `json:"findings"`
	Recommendations []string                    `json:"recommendations"`
	// AdviceCoverage is false when the severity index had no entry in the
	// recommendation table; the panel renders empty instead of failing.
	AdviceCoverage bool `json:"advice_coverage"`
	// DocumentPending is true while the generated report document has not
	// arrived yet. Rendering shows "generation in progress", not an error.
	DocumentPending bool      `json:"document_pending"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Assembler builds report views from completed submissions.
type Assembler struct {
	engine *rules.Engine
}

// NewAssembler creates a report assembler over the given rule engine.
func NewAssembler(engine *rules.Engine) *Assembler {
	return &Assembler{engine: engine}
}

// Assemble combines the patient record, the classification result and the
// rule engine's derivations into one ReportView. A nil result means the
// workflow has not reached ResultReady; that is a contract violation by the
// integrator and fails with ErrIncompleteReport.
func (a *Assembler) Assemble(record domain.PatientRecord, result *domain.ClassificationResult) (*ReportView, error) {
	if result == nil {
		return nil, domain.ErrIncompleteReport
	}

	findings, err := a.engine.Findings(result.IsSafe, result.SeverityIndex)
	if err != nil {
		return nil, fmt.Errorf("assembling report %s: %w", result.ReportID, err)
	}

	views := make([]FindingView, len(findings))
	for i, f := range findings {
		views[i] = FindingView{ClinicalFinding: f, Color: rules.TierColor(f.Tier)}
	}

	advice, known := a.engine.Recommendations(result.SeverityIndex)

	return &ReportView{
		Patient:         record,
		Result:          *result,
		Findings:        views,
		Recommendations: advice,
		AdviceCoverage:  known,
		DocumentPending: !result.HasDocument(),
		GeneratedAt:     time.Now().UTC(),
	}, nil
}
