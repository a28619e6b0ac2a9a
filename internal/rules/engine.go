// Package rules maps a screening classification onto structured clinical
// findings and a prioritized recommendation list. The mappings are pure
// lookup tables keyed by (isSafe, severityIndex); nothing in this package
// performs I/O or holds mutable state between calls.
package rules

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/retina-screening-gateway/internal/domain"
)

// Engine evaluates the clinical rule tables. The logger is used only to
// surface out-of-domain severity indexes; evaluation itself is deterministic.
type Engine struct {
	logger *logrus.Logger
}

// NewEngine creates a new rule engine.
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{logger: logger}
}

// normalFindings is the fixed sequence returned for a clean screening.
var normalFindings = []domain.ClinicalFinding{
	{Label: "Optic Disc", Status: "Normal Architecture", Detail: "Cup-to-disc ratio within normal limits", Tier: domain.TierNormal},
	{Label: "Macula", Status: "Intact Structure", Detail: "Foveal reflex present, no edema", Tier: domain.TierNormal},
	{Label: "Blood Vessels", Status: "Regular Caliber", Detail: "No arteriovenous nicking", Tier: domain.TierNormal},
	{Label: "Microaneurysms", Status: "Not Detected", Detail: "No capillary abnormalities observed", Tier: domain.TierNormal},
	{Label: "Hemorrhages", Status: "Absent", Detail: "No intraretinal or preretinal bleeding", Tier: domain.TierNormal},
	{Label: "Exudates", Status: "None Present", Detail: "No hard or soft exudates identified", Tier: domain.TierNormal},
}

// criticalFindings is appended only for proliferative disease (index 3).
var criticalFindings = []domain.ClinicalFinding{
	{Label: "Neovascularization", Status: "CRITICAL", Detail: "New vessel growth on disc/elsewhere", Tier: domain.TierCritical},
	{Label: "Vitreous Hemorrhage", Status: "Risk Present", Detail: "Potential for bleeding into vitreous cavity", Tier: domain.TierCritical},
}

// escalatingFinding describes one base finding for a positive screening, with
// the moderate and severe renderings side by side. The severe column applies
// from severity index 2 upward.
type escalatingFinding struct {
	label          string
	moderateStatus string
	severeStatus   string
	moderateDetail string
	severeDetail   string
	moderateTier   domain.SeverityTier
	severeTier     domain.SeverityTier
}

var positiveFindings = []escalatingFinding{
	{
		label:          "Microaneurysms",
		moderateStatus: "Present", severeStatus: "Present",
		moderateDetail: "Multiple capillary outpouchings detected", severeDetail: "Multiple capillary outpouchings detected",
		moderateTier: domain.TierModerate, severeTier: domain.TierModerate,
	},
	{
		label:          "Dot/Blot Hemorrhages",
		moderateStatus: "Scattered", severeStatus: "Extensive",
		moderateDetail: "Localized hemorrhagic spots", severeDetail: "Numerous intraretinal hemorrhages",
		moderateTier: domain.TierModerate, severeTier: domain.TierSevere,
	},
	{
		label:          "Hard Exudates",
		moderateStatus: "Sparse", severeStatus: "Confluent",
		moderateDetail: "Isolated lipid deposits", severeDetail: "Lipid deposits threatening macula",
		moderateTier: domain.TierModerate, severeTier: domain.TierSevere,
	},
	{
		label:          "Cotton Wool Spots",
		moderateStatus: "Few", severeStatus: "Multiple",
		moderateDetail: "Nerve fiber layer infarcts", severeDetail: "Nerve fiber layer infarcts",
		moderateTier: domain.TierModerate, severeTier: domain.TierSevere,
	},
	{
		label:          "Venous Changes",
		moderateStatus: "Mild Dilation", severeStatus: "Beading Present",
		moderateDetail: "Slight venous tortuosity", severeDetail: "Significant venous caliber irregularity",
		moderateTier: domain.TierModerate, severeTier: domain.TierSevere,
	},
}

// recommendationTable maps severity index to the fixed, clinically ordered
// advice list, most urgent action first. The table is total over 0..3.
var recommendationTable = map[int][]string{
	0: {
		"Continue regular monitoring with annual comprehensive eye examinations",
		"Maintain optimal glycemic control (HbA1c < 7.0%) to prevent progression",
		"Blood pressure management essential (target <130/80 mmHg)",
		"Incorporate antioxidant-rich foods: leafy greens, carrots, citrus fruits",
		"Regular physical activity recommended (30 minutes daily, 5 days/week)",
	},
	1: {
		"Ophthalmology referral recommended within 4-6 weeks for detailed evaluation",
		"Enhanced glycemic monitoring required - check fasting and post-prandial levels",
		"Lipid profile assessment to evaluate cardiovascular risk factors",
		"Blood pressure monitoring twice daily, maintain log for physician review",
		"Dietary modifications: reduce sodium intake, increase omega-3 fatty acids",
		"Follow-up retinal screening recommended in 3-6 months",
	},
	2: {
		"URGENT: Retina specialist consultation required within 7-14 days",
		"Pan-retinal photocoagulation (laser therapy) may be indicated",
		"Strict glycemic control mandatory - consider insulin therapy adjustment",
		"Avoid activities that increase intraocular pressure (heavy lifting, straining)",
		"Regular monitoring of visual acuity and intraocular pressure",
		"Consider anti-VEGF therapy based on specialist recommendation",
		"Monthly follow-up appointments required until stabilization",
	},
	3: {
		"CRITICAL: Immediate ophthalmology intervention required within 48-72 hours",
		"High risk of severe vision loss - urgent surgical evaluation needed",
		"Anti-VEGF intravitreal injections likely required",
		"Vitrectomy may be necessary for vitreous hemorrhage management",
		"Aggressive systemic control of diabetes and hypertension essential",
		"Avoid all strenuous activities and sudden head movements",
		"Emergency department visit recommended if sudden vision changes occur",
		"Weekly monitoring during acute phase required",
	},
}

// tierColors maps every severity tier to its display token. Total over the
// five-element tier domain; unknown renders neutral gray so an unexpected
// value never blocks report display.
var tierColors = map[domain.SeverityTier]string{
	domain.TierNormal:   "#16a34a",
	domain.TierModerate: "#f59e0b",
	domain.TierSevere:   "#dc2626",
	domain.TierCritical: "#991b1b",
	domain.TierUnknown:  "#6b7280",
}

// Findings derives the ordered finding list for a classification. A safe
// result yields the fixed six normal findings regardless of severity index.
// A positive result yields the five base findings, escalated from severity
// index 2 upward, with two critical findings appended at exactly index 3.
//
// A severity index outside 0..3 is a precondition violation; this function
// never guesses.
func (e *Engine) Findings(isSafe bool, severityIndex int) ([]domain.ClinicalFinding, error) {
	if !domain.ValidSeverityIndex(severityIndex) {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidSeverityIndex, severityIndex)
	}

	if isSafe {
		out := make([]domain.ClinicalFinding, len(normalFindings))
		copy(out, normalFindings)
		return out, nil
	}

	severe := severityIndex >= 2
	out := make([]domain.ClinicalFinding, 0, len(positiveFindings)+len(criticalFindings))
	for _, f := range positiveFindings {
		if severe {
			out = append(out, domain.ClinicalFinding{
				Label: f.label, Status: f.severeStatus, Detail: f.severeDetail, Tier: f.severeTier,
			})
		} else {
			out = append(out, domain.ClinicalFinding{
				Label: f.label, Status: f.moderateStatus, Detail: f.moderateDetail, Tier: f.moderateTier,
			})
		}
	}
	if severityIndex == domain.SeverityIndexMax {
		out = append(out, criticalFindings...)
	}
	return out, nil
}

// Recommendations returns the advice list for a severity index. An index the
// table does not know yields an empty list and known=false rather than an
// error, so a future grading value degrades to a blank panel instead of
// crashing the display layer; the condition is logged so it stays visible.
func (e *Engine) Recommendations(severityIndex int) (advice []string, known bool) {
	list, ok := recommendationTable[severityIndex]
	if !ok {
		if e.logger != nil {
			e.logger.WithField("severity_index", severityIndex).
				Warn("No recommendation table entry for severity index")
		}
		return []string{}, false
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, true
}

// TierColor returns the display color token for a severity tier. Total over
// the declared tier domain; anything else falls back to neutral gray.
func TierColor(tier domain.SeverityTier) string {
	if c, ok := tierColors[tier]; ok {
		return c
	}
	return tierColors[domain.TierUnknown]
}
