package risk

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/errors"
)

// Level buckets an integrated score into a risk level.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFromScore maps a 0..100 integrated score onto a level.
func LevelFromScore(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Risk is the inherent risk record scoring operates on. Impact and
// likelihood are on a 1-5 scale.
type Risk struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Impact     int       `json:"impact"`
	Likelihood int       `json:"likelihood"`
	Category   string    `json:"category,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRisk builds and validates a risk record.
func NewRisk(name string, impact, likelihood int) (*Risk, error) {
	if name == "" {
		return nil, errors.NewValidationError("MISSING_NAME", "risk requires a name")
	}
	if impact < 1 || impact > 5 {
		return nil, errors.NewValidationError("INVALID_IMPACT", "impact must be within 1..5")
	}
	if likelihood < 1 || likelihood > 5 {
		return nil, errors.NewValidationError("INVALID_LIKELIHOOD", "likelihood must be within 1..5")
	}
	return &Risk{
		ID:         uuid.New(),
		Name:       name,
		Impact:     impact,
		Likelihood: likelihood,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// BaseScore is impact x likelihood on the raw 1-25 scale.
func (r *Risk) BaseScore() float64 {
	return float64(r.Impact * r.Likelihood)
}

// ThreatSignal is one external threat intelligence indicator tied to a risk.
type ThreatSignal struct {
	ID         uuid.UUID `json:"id"`
	RiskID     uuid.UUID `json:"risk_id"`
	Indicator  string    `json:"indicator"`
	Severity   Level     `json:"severity"`
	Source     string    `json:"source,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// SeverityScore maps a signal severity onto 0..100.
func (t ThreatSignal) SeverityScore() float64 {
	switch t.Severity {
	case LevelCritical:
		return 100
	case LevelHigh:
		return 75
	case LevelMedium:
		return 50
	case LevelLow:
		return 25
	}
	return 0
}

// MappingType describes how a control relates to a risk.
type MappingType string

const (
	MappingMitigates  MappingType = "mitigates"
	MappingMonitors   MappingType = "monitors"
	MappingDetects    MappingType = "detects"
	MappingPrevents   MappingType = "prevents"
	MappingRespondsTo MappingType = "responds_to"
)

func (m MappingType) Valid() bool {
	switch m {
	case MappingMitigates, MappingMonitors, MappingDetects, MappingPrevents, MappingRespondsTo:
		return true
	}
	return false
}

// MappingSource records whether a mapping was asserted by a human or
// generated by the assessment oracle.
type MappingSource string

const (
	SourceHuman  MappingSource = "human"
	SourceOracle MappingSource = "oracle"
)

// ControlMapping links a risk to a control. Many-to-many; either side may
// have zero or more mappings.
type ControlMapping struct {
	ID            uuid.UUID     `json:"id"`
	RiskID        uuid.UUID     `json:"risk_id"`
	ControlID     string        `json:"control_id"`
	Type          MappingType   `json:"type"`
	Effectiveness int           `json:"effectiveness"` // 1..5
	CoveragePct   float64       `json:"coverage_pct"`  // 0..100
	Confidence    float64       `json:"confidence"`    // 0..1
	Source        MappingSource `json:"source"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewControlMapping builds and validates a risk-control mapping.
func NewControlMapping(riskID uuid.UUID, controlID string, mappingType MappingType, effectiveness int, coveragePct, confidence float64, source MappingSource) (*ControlMapping, error) {
	if controlID == "" {
		return nil, errors.NewValidationError("MISSING_CONTROL", "mapping requires a control id")
	}
	if !mappingType.Valid() {
		return nil, errors.NewValidationError("INVALID_MAPPING_TYPE", "unknown mapping type")
	}
	if effectiveness < 1 || effectiveness > 5 {
		return nil, errors.NewValidationError("INVALID_EFFECTIVENESS", "effectiveness must be within 1..5")
	}
	if coveragePct < 0 || coveragePct > 100 {
		return nil, errors.NewValidationError("INVALID_COVERAGE", "coverage must be within 0..100")
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.NewValidationError("INVALID_CONFIDENCE", "confidence must be within 0..1")
	}
	return &ControlMapping{
		ID:            uuid.New(),
		RiskID:        riskID,
		ControlID:     controlID,
		Type:          mappingType,
		Effectiveness: effectiveness,
		CoveragePct:   coveragePct,
		Confidence:    confidence,
		Source:        source,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// ImplementationStatus is a mapped control's maturity state. More mature
// states carry a higher multiplier in effectiveness scoring.
type ImplementationStatus string

const (
	ImplementationNone       ImplementationStatus = "none"
	ImplementationInProgress ImplementationStatus = "in_progress"
	ImplementationDone       ImplementationStatus = "implemented"
	ImplementationTested     ImplementationStatus = "tested"
	ImplementationVerified   ImplementationStatus = "verified"
)

// Multiplier rewards more mature implementation states.
func (s ImplementationStatus) Multiplier() float64 {
	switch s {
	case ImplementationVerified:
		return 1.2
	case ImplementationTested:
		return 1.1
	case ImplementationDone:
		return 1.0
	case ImplementationInProgress:
		return 0.5
	default:
		return 0.1
	}
}

// Implemented reports whether the control counts toward compliance posture.
func (s ImplementationStatus) Implemented() bool {
	switch s {
	case ImplementationDone, ImplementationTested, ImplementationVerified:
		return true
	}
	return false
}

// IntegratedAssessment is one scored view of a risk. Assessments are
// append-only history; a recomputation never overwrites a prior record.
type IntegratedAssessment struct {
	ID                   uuid.UUID `json:"id"`
	RiskID               uuid.UUID `json:"risk_id"`
	BaseScore            float64   `json:"base_score"` // raw 1..25
	ThreatScore          float64   `json:"threat_score"`
	ControlEffectiveness float64   `json:"control_effectiveness"`
	ComplianceScore      float64   `json:"compliance_score"`
	IntegratedScore      float64   `json:"integrated_score"`
	RiskLevel            Level     `json:"risk_level"`
	PriorityScore        int       `json:"priority_score"`
	RecommendedActions   []string  `json:"recommended_actions,omitempty"`
	AssessedAt           time.Time `json:"assessed_at"`
}

// Repository persists risks, threat signals, mappings and assessment history.
type Repository interface {
	SaveRisk(ctx context.Context, r *Risk) error
	GetRisk(ctx context.Context, id uuid.UUID) (*Risk, error)
	ListRisks(ctx context.Context, limit int) ([]*Risk, error)

	SaveThreatSignal(ctx context.Context, sig *ThreatSignal) error
	ListThreatSignals(ctx context.Context, riskID uuid.UUID) ([]*ThreatSignal, error)

	SaveMapping(ctx context.Context, m *ControlMapping) error
	ListMappings(ctx context.Context, riskID uuid.UUID) ([]*ControlMapping, error)
	ListAllMappings(ctx context.Context) ([]*ControlMapping, error)

	// ControlStatuses resolves implementation status for the given controls.
	ControlStatuses(ctx context.Context, controlIDs []string) (map[string]ImplementationStatus, error)

	// SaveAssessment appends to assessment history.
	SaveAssessment(ctx context.Context, a *IntegratedAssessment) error
	ListAssessments(ctx context.Context, riskID uuid.UUID, limit int) ([]*IntegratedAssessment, error)
}
