package risk

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/risk"
)

// Blend weights for the integrated score. Higher control effectiveness and
// compliance posture reduce integrated risk, so those two terms enter
// inverted.
const (
	weightBase       = 0.30
	weightThreat     = 0.25
	weightControls   = 0.25
	weightCompliance = 0.20

	// Indicator volume stops adding weight beyond this count.
	threatVolumeCap = 10
)

// Scorer blends base risk, threat intelligence, control effectiveness and
// compliance posture into one normalized assessment. Score is deterministic
// and side-effect-free; persisting the result is the caller's responsibility.
type Scorer struct{}

// NewScorer creates a scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes an integrated assessment for a risk given its threat
// signals, control mappings and the mapped controls' implementation statuses.
func (s *Scorer) Score(r *risk.Risk, threats []*risk.ThreatSignal, mappings []*risk.ControlMapping, statuses map[string]risk.ImplementationStatus) *risk.IntegratedAssessment {
	base := r.BaseScore()               // raw 1..25
	normalizedBase := base / 25.0 * 100 // 0..100 for blending

	threat := threatScore(threats)
	controls := controlEffectiveness(mappings, statuses)
	compliance := compliancePosture(mappings, statuses)

	integrated := weightBase*normalizedBase +
		weightThreat*threat +
		weightControls*(100-controls) +
		weightCompliance*(100-compliance)

	a := &risk.IntegratedAssessment{
		ID:                   uuid.New(),
		RiskID:               r.ID,
		BaseScore:            base,
		ThreatScore:          threat,
		ControlEffectiveness: controls,
		ComplianceScore:      compliance,
		IntegratedScore:      integrated,
		RiskLevel:            risk.LevelFromScore(integrated),
		PriorityScore:        int(math.Round(0.7*integrated + 0.3*threat)),
		AssessedAt:           time.Now().UTC(),
	}
	a.RecommendedActions = recommendActions(a)
	return a
}

// threatScore is the mean indicator severity, damped by indicator volume:
// a handful of indicators should not carry the weight of a sustained campaign.
func threatScore(threats []*risk.ThreatSignal) float64 {
	if len(threats) == 0 {
		return 0
	}
	var sum float64
	for _, t := range threats {
		sum += t.SeverityScore()
	}
	mean := sum / float64(len(threats))
	volume := math.Min(1, float64(len(threats))/threatVolumeCap)
	return mean * volume
}

// controlEffectiveness averages effectiveness x implementation maturity over
// the mapped controls, scaled to 0..100 and capped.
func controlEffectiveness(mappings []*risk.ControlMapping, statuses map[string]risk.ImplementationStatus) float64 {
	if len(mappings) == 0 {
		return 0
	}
	var sum float64
	for _, m := range mappings {
		status := statuses[m.ControlID]
		sum += float64(m.Effectiveness) * status.Multiplier()
	}
	mean := sum / float64(len(mappings))
	return math.Min(100, mean*20)
}

// compliancePosture is the share of mapped controls that are implemented.
func compliancePosture(mappings []*risk.ControlMapping, statuses map[string]risk.ImplementationStatus) float64 {
	if len(mappings) == 0 {
		return 0
	}
	implemented := 0
	for _, m := range mappings {
		if statuses[m.ControlID].Implemented() {
			implemented++
		}
	}
	return float64(implemented) / float64(len(mappings)) * 100
}

func recommendActions(a *risk.IntegratedAssessment) []string {
	var actions []string
	if a.RiskLevel == risk.LevelCritical {
		actions = append(actions, "Initiate immediate remediation and escalate to risk owners")
	}
	if a.ThreatScore >= 50 {
		actions = append(actions, "Review active threat indicators and tighten detection controls")
	}
	if a.ControlEffectiveness < 50 {
		actions = append(actions, "Strengthen or add mitigating controls; current coverage is weak")
	}
	if a.ComplianceScore < 60 {
		actions = append(actions, "Complete implementation of mapped controls to close compliance gaps")
	}
	if len(actions) == 0 {
		actions = append(actions, "Maintain current control posture and continue monitoring")
	}
	return actions
}
