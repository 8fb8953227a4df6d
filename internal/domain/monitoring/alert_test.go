package monitoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    AlertStatus
		to      AlertStatus
		allowed bool
	}{
		{"open to acknowledged", AlertOpen, AlertAcknowledged, true},
		{"open to investigating", AlertOpen, AlertInvestigating, true},
		{"open to resolved", AlertOpen, AlertResolved, true},
		{"open to false positive", AlertOpen, AlertFalsePositive, true},
		{"acknowledged to investigating", AlertAcknowledged, AlertInvestigating, true},
		{"acknowledged to resolved", AlertAcknowledged, AlertResolved, true},
		{"investigating to resolved", AlertInvestigating, AlertResolved, true},
		{"investigating to false positive", AlertInvestigating, AlertFalsePositive, true},
		{"acknowledged back to open", AlertAcknowledged, AlertOpen, false},
		{"investigating back to acknowledged", AlertInvestigating, AlertAcknowledged, false},
		{"resolved is terminal", AlertResolved, AlertInvestigating, false},
		{"false positive is terminal", AlertFalsePositive, AlertOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := NewAlert(uuid.New(), RuleThreshold, SeverityHigh, "t", "d", nil, nil)
			alert.Status = tt.from

			err := alert.Transition(tt.to)
			if !tt.allowed {
				require.Error(t, err)
				assert.Equal(t, tt.from, alert.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, alert.Status)
		})
	}
}

func TestAlertTransition_Timestamps(t *testing.T) {
	alert := NewAlert(uuid.New(), RuleAnomaly, SeverityMedium, "t", "d", nil, nil)
	assert.Nil(t, alert.AcknowledgedAt)
	assert.Nil(t, alert.ResolvedAt)

	require.NoError(t, alert.Transition(AlertAcknowledged))
	assert.NotNil(t, alert.AcknowledgedAt)

	require.NoError(t, alert.Transition(AlertResolved))
	assert.NotNil(t, alert.ResolvedAt)
}

func TestFingerprint_DeterministicForIdenticalConditions(t *testing.T) {
	ruleID := uuid.New()
	trigger := map[string]interface{}{"metric": "implementation_progress", "current": 42.0, "threshold": 70.0}

	a := NewAlert(ruleID, RuleThreshold, SeverityHigh, "Threshold breach on control CC-1", "d", trigger, []string{"CC-1", "CC-2"})
	b := NewAlert(ruleID, RuleThreshold, SeverityHigh, "Threshold breach on control CC-1", "d", trigger, []string{"CC-2", "CC-1"})

	// Different IDs and creation times, same identity-bearing fields.
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_ChangesWithTriggerData(t *testing.T) {
	ruleID := uuid.New()
	a := NewAlert(ruleID, RuleThreshold, SeverityHigh, "t", "d", map[string]interface{}{"current": 42.0}, []string{"CC-1"})
	b := NewAlert(ruleID, RuleThreshold, SeverityHigh, "t", "d", map[string]interface{}{"current": 41.0}, []string{"CC-1"})
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
}

func TestRiskLevelSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, RiskCritical.Severity())
	assert.Equal(t, SeverityHigh, RiskHigh.Severity())
	assert.Equal(t, SeverityMedium, RiskMedium.Severity())
	assert.Equal(t, SeverityLow, RiskLow.Severity())
	assert.Equal(t, SeverityLow, RiskLevel("").Severity())
}
