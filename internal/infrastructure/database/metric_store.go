package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
)

// MetricStore reads control, test and framework records into the snapshots
// rule evaluation consumes, and gives step handlers their write path for
// test results and evidence. Implements monitoring.MetricStore and the
// workflow package's ControlStore.
type MetricStore struct {
	pool *pgxpool.Pool

	// passRateDays bounds the daily pass rate history loaded per control.
	passRateDays int
}

// NewMetricStore creates a metric store.
func NewMetricStore(pool *pgxpool.Pool) *MetricStore {
	return &MetricStore{pool: pool, passRateDays: 30}
}

// Snapshot assembles a point-in-time view for the given controls and
// framework. Unknown controls are simply absent from the result; the
// evaluator turns that into a rule evaluation error.
func (s *MetricStore) Snapshot(ctx context.Context, controlIDs []string, frameworkID uuid.UUID) (*monitoring.MetricSnapshot, error) {
	snapshot := &monitoring.MetricSnapshot{
		Controls:   make(map[string]monitoring.ControlMetrics, len(controlIDs)),
		Frameworks: make(map[uuid.UUID]monitoring.FrameworkMetrics),
		TakenAt:    time.Now().UTC(),
	}

	if len(controlIDs) > 0 {
		if err := s.loadControls(ctx, controlIDs, snapshot); err != nil {
			return nil, err
		}
	}
	if frameworkID != uuid.Nil {
		if err := s.loadFramework(ctx, frameworkID, snapshot); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

func (s *MetricStore) loadControls(ctx context.Context, controlIDs []string, snapshot *monitoring.MetricSnapshot) error {
	query := `
		SELECT c.control_id, c.risk_level, c.implementation_progress,
		       COALESCE(a.assessed_progress, -1), a.assessed_progress IS NOT NULL,
		       COALESCE(f.recent_failures, 0), c.failure_window_days
		FROM controls c
		LEFT JOIN LATERAL (
			SELECT assessed_progress
			FROM control_assessments
			WHERE control_id = c.control_id
			ORDER BY assessed_at DESC LIMIT 1
		) a ON true
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS recent_failures
			FROM control_test_results
			WHERE control_id = c.control_id
			  AND NOT passed
			  AND run_at >= NOW() - make_interval(days => c.failure_window_days)
		) f ON true
		WHERE c.control_id = ANY($1)`

	rows, err := s.pool.Query(ctx, query, pq.Array(controlIDs))
	if err != nil {
		return errors.NewInternalError("failed to load control metrics").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         monitoring.ControlMetrics
			riskLevel string
		)
		err := rows.Scan(&m.ControlID, &riskLevel, &m.ImplementationProgress,
			&m.AssessedProgress, &m.HasAssessment, &m.RecentFailures, &m.FailureWindowDays)
		if err != nil {
			return errors.NewInternalError("failed to scan control metrics").WithCause(err)
		}
		m.RiskLevel = monitoring.RiskLevel(riskLevel)
		snapshot.Controls[m.ControlID] = m
	}
	if err := rows.Err(); err != nil {
		return errors.NewInternalError("failed to load control metrics").WithCause(err)
	}

	return s.loadPassRates(ctx, controlIDs, snapshot)
}

func (s *MetricStore) loadPassRates(ctx context.Context, controlIDs []string, snapshot *monitoring.MetricSnapshot) error {
	query := `
		SELECT control_id, date_trunc('day', run_at) AS day,
		       AVG(CASE WHEN passed THEN 1.0 ELSE 0.0 END), COUNT(*)
		FROM control_test_results
		WHERE control_id = ANY($1)
		  AND run_at >= NOW() - make_interval(days => $2)
		GROUP BY control_id, day
		ORDER BY control_id, day`

	rows, err := s.pool.Query(ctx, query, pq.Array(controlIDs), s.passRateDays)
	if err != nil {
		return errors.NewInternalError("failed to load pass rates").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			controlID string
			rate      monitoring.DailyPassRate
		)
		if err := rows.Scan(&controlID, &rate.Day, &rate.PassRate, &rate.Total); err != nil {
			return errors.NewInternalError("failed to scan pass rate").WithCause(err)
		}
		m, ok := snapshot.Controls[controlID]
		if !ok {
			continue
		}
		m.DailyPassRates = append(m.DailyPassRates, rate)
		snapshot.Controls[controlID] = m
	}
	return rows.Err()
}

func (s *MetricStore) loadFramework(ctx context.Context, frameworkID uuid.UUID, snapshot *monitoring.MetricSnapshot) error {
	var m monitoring.FrameworkMetrics
	err := s.pool.QueryRow(ctx, `
		SELECT framework_id, COUNT(*),
		       COUNT(*) FILTER (WHERE implementation_status IN ('implemented', 'tested', 'verified'))
		FROM controls
		WHERE framework_id = $1
		GROUP BY framework_id`, frameworkID).
		Scan(&m.FrameworkID, &m.TotalControls, &m.ImplementedControls)
	if err != nil {
		// A framework with no controls yields no row; leave it absent.
		return nil
	}
	snapshot.Frameworks[frameworkID] = m
	return nil
}

// EvaluateChecks runs a control's registered automated checks. Each check is a
// stored query against the check's data payload; here the stored expectation
// is compared against the latest recorded observation.
func (s *MetricStore) EvaluateChecks(ctx context.Context, controlID, suite string) ([]workflowsvc.CheckResult, error) {
	query := `
		SELECT check_id, name, expected, COALESCE(o.observed, 'null'::jsonb)
		FROM control_checks c
		LEFT JOIN LATERAL (
			SELECT observed
			FROM check_observations
			WHERE check_id = c.check_id
			ORDER BY observed_at DESC LIMIT 1
		) o ON true
		WHERE c.control_id = $1
		  AND ($2 = '' OR c.suite = $2)
		ORDER BY c.check_id`

	rows, err := s.pool.Query(ctx, query, controlID, suite)
	if err != nil {
		return nil, errors.NewInternalError("failed to load control checks").WithCause(err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var results []workflowsvc.CheckResult
	for rows.Next() {
		var (
			res      workflowsvc.CheckResult
			expected []byte
			observed []byte
		)
		if err := rows.Scan(&res.CheckID, &res.Name, &expected, &observed); err != nil {
			return nil, errors.NewInternalError("failed to scan control check").WithCause(err)
		}
		res.RunAt = now
		res.Passed = jsonEqual(expected, observed)
		if !res.Passed {
			res.Detail = fmt.Sprintf("expected %s, observed %s", expected, observed)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func jsonEqual(a, b []byte) bool {
	var va, vb interface{}
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}

// AppendTestResults records automated check outcomes for a control.
func (s *MetricStore) AppendTestResults(ctx context.Context, controlID string, results []workflowsvc.CheckResult) error {
	for _, res := range results {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO control_test_results (control_id, check_id, name, passed, detail, run_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			controlID, res.CheckID, res.Name, res.Passed, res.Detail, res.RunAt)
		if err != nil {
			return errors.NewInternalError("failed to append test result").WithCause(err)
		}
	}
	return nil
}

// CollectEvidence pulls the latest records from the named evidence sources.
func (s *MetricStore) CollectEvidence(ctx context.Context, controlID string, sources []string) ([]workflowsvc.EvidenceRecord, error) {
	query := `
		SELECT DISTINCT ON (source) id, control_id, source, description, data, collected_at
		FROM evidence_sources
		WHERE control_id = $1 AND source = ANY($2)
		ORDER BY source, collected_at DESC`

	rows, err := s.pool.Query(ctx, query, controlID, pq.Array(sources))
	if err != nil {
		return nil, errors.NewInternalError("failed to collect evidence").WithCause(err)
	}
	defer rows.Close()

	var records []workflowsvc.EvidenceRecord
	for rows.Next() {
		var (
			rec  workflowsvc.EvidenceRecord
			data []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ControlID, &rec.Source, &rec.Description, &data, &rec.CollectedAt); err != nil {
			return nil, errors.NewInternalError("failed to scan evidence").WithCause(err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &rec.Data); err != nil {
				return nil, errors.NewInternalError("failed to decode evidence data").WithCause(err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendEvidence stores collected evidence records.
func (s *MetricStore) AppendEvidence(ctx context.Context, records []workflowsvc.EvidenceRecord) error {
	for _, rec := range records {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return errors.NewInternalError("failed to encode evidence data").WithCause(err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO collected_evidence (id, control_id, source, description, data, collected_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.ControlID, rec.Source, rec.Description, data, rec.CollectedAt)
		if err != nil {
			return errors.NewInternalError("failed to append evidence").WithCause(err)
		}
	}
	return nil
}
