package risk

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/risk"
)

// Service owns risk records, their threat signals and control mappings, and
// runs integrated scoring over them.
type Service struct {
	repo   risk.Repository
	scorer *Scorer
	logger *zap.Logger
}

// NewService creates the risk service.
func NewService(repo risk.Repository, scorer *Scorer, logger *zap.Logger) *Service {
	return &Service{repo: repo, scorer: scorer, logger: logger}
}

// CreateRisk validates and persists a new risk record.
func (s *Service) CreateRisk(ctx context.Context, name string, impact, likelihood int) (*risk.Risk, error) {
	r, err := risk.NewRisk(name, impact, likelihood)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveRisk(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// AddThreatSignal attaches a threat intelligence indicator to a risk.
func (s *Service) AddThreatSignal(ctx context.Context, sig *risk.ThreatSignal) error {
	if _, err := s.repo.GetRisk(ctx, sig.RiskID); err != nil {
		return err
	}
	return s.repo.SaveThreatSignal(ctx, sig)
}

// MapControl records a risk-control mapping.
func (s *Service) MapControl(ctx context.Context, riskID uuid.UUID, controlID string, mappingType risk.MappingType, effectiveness int, coveragePct, confidence float64, source risk.MappingSource) (*risk.ControlMapping, error) {
	if _, err := s.repo.GetRisk(ctx, riskID); err != nil {
		return nil, err
	}
	m, err := risk.NewControlMapping(riskID, controlID, mappingType, effectiveness, coveragePct, confidence, source)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveMapping(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Analyze loads everything scoring needs for one risk, computes a fresh
// integrated assessment and appends it to the risk's assessment history.
func (s *Service) Analyze(ctx context.Context, riskID uuid.UUID) (*risk.IntegratedAssessment, error) {
	r, err := s.repo.GetRisk(ctx, riskID)
	if err != nil {
		return nil, err
	}
	threats, err := s.repo.ListThreatSignals(ctx, riskID)
	if err != nil {
		return nil, err
	}
	mappings, err := s.repo.ListMappings(ctx, riskID)
	if err != nil {
		return nil, err
	}
	controlIDs := make([]string, len(mappings))
	for i, m := range mappings {
		controlIDs[i] = m.ControlID
	}
	statuses, err := s.repo.ControlStatuses(ctx, controlIDs)
	if err != nil {
		return nil, err
	}

	assessment := s.scorer.Score(r, threats, mappings, statuses)
	if err := s.repo.SaveAssessment(ctx, assessment); err != nil {
		return nil, err
	}

	s.logger.Info("risk assessed",
		zap.String("risk_id", riskID.String()),
		zap.Float64("integrated_score", assessment.IntegratedScore),
		zap.String("risk_level", string(assessment.RiskLevel)),
		zap.Int("priority", assessment.PriorityScore))
	return assessment, nil
}

// History returns the risk's assessment history, newest first.
func (s *Service) History(ctx context.Context, riskID uuid.UUID, limit int) ([]*risk.IntegratedAssessment, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListAssessments(ctx, riskID, limit)
}

// LatestAssessments analyzes every known risk and returns the fresh results.
// Used by the dashboard aggregation.
func (s *Service) LatestAssessments(ctx context.Context) ([]*risk.IntegratedAssessment, error) {
	risks, err := s.repo.ListRisks(ctx, 0)
	if err != nil {
		return nil, err
	}
	assessments := make([]*risk.IntegratedAssessment, 0, len(risks))
	for _, r := range risks {
		a, err := s.Analyze(ctx, r.ID)
		if err != nil {
			s.logger.Warn("risk analysis failed during aggregation",
				zap.String("risk_id", r.ID.String()),
				zap.Error(err))
			continue
		}
		assessments = append(assessments, a)
	}
	return assessments, nil
}
