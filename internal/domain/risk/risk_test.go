package risk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grcops/compliance-core/internal/domain/errors"
)

func TestNewRisk(t *testing.T) {
	tests := []struct {
		name       string
		riskName   string
		impact     int
		likelihood int
		wantCode   string
	}{
		{"valid", "data exfiltration", 4, 3, ""},
		{"missing name", "", 3, 3, "MISSING_NAME"},
		{"impact too low", "r", 0, 3, "INVALID_IMPACT"},
		{"impact too high", "r", 6, 3, "INVALID_IMPACT"},
		{"likelihood too low", "r", 3, 0, "INVALID_LIKELIHOOD"},
		{"likelihood too high", "r", 3, 6, "INVALID_LIKELIHOOD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRisk(tt.riskName, tt.impact, tt.likelihood)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, float64(tt.impact*tt.likelihood), r.BaseScore())
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.Code(err))
		})
	}
}

func TestLevelFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{29.9, LevelLow},
		{30, LevelMedium},
		{59.9, LevelMedium},
		{60, LevelHigh},
		{79.9, LevelHigh},
		{80, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFromScore(tt.score), "score %.1f", tt.score)
	}
}

func TestThreatSignalSeverityScore(t *testing.T) {
	assert.Equal(t, 100.0, ThreatSignal{Severity: LevelCritical}.SeverityScore())
	assert.Equal(t, 75.0, ThreatSignal{Severity: LevelHigh}.SeverityScore())
	assert.Equal(t, 50.0, ThreatSignal{Severity: LevelMedium}.SeverityScore())
	assert.Equal(t, 25.0, ThreatSignal{Severity: LevelLow}.SeverityScore())
	assert.Equal(t, 0.0, ThreatSignal{Severity: "unknown"}.SeverityScore())
}

func TestNewControlMapping(t *testing.T) {
	riskID := uuid.New()

	m, err := NewControlMapping(riskID, "CC-6.1", MappingMitigates, 4, 80, 0.9, SourceHuman)
	require.NoError(t, err)
	assert.Equal(t, riskID, m.RiskID)

	_, err = NewControlMapping(riskID, "", MappingMitigates, 4, 80, 0.9, SourceHuman)
	assert.Equal(t, "MISSING_CONTROL", errors.Code(err))

	_, err = NewControlMapping(riskID, "CC-6.1", "helps", 4, 80, 0.9, SourceHuman)
	assert.Equal(t, "INVALID_MAPPING_TYPE", errors.Code(err))

	_, err = NewControlMapping(riskID, "CC-6.1", MappingDetects, 6, 80, 0.9, SourceOracle)
	assert.Equal(t, "INVALID_EFFECTIVENESS", errors.Code(err))

	_, err = NewControlMapping(riskID, "CC-6.1", MappingDetects, 4, 101, 0.9, SourceOracle)
	assert.Equal(t, "INVALID_COVERAGE", errors.Code(err))

	_, err = NewControlMapping(riskID, "CC-6.1", MappingDetects, 4, 80, 1.1, SourceOracle)
	assert.Equal(t, "INVALID_CONFIDENCE", errors.Code(err))
}

func TestImplementationStatus(t *testing.T) {
	assert.True(t, ImplementationDone.Implemented())
	assert.True(t, ImplementationTested.Implemented())
	assert.True(t, ImplementationVerified.Implemented())
	assert.False(t, ImplementationInProgress.Implemented())
	assert.False(t, ImplementationNone.Implemented())

	assert.Greater(t, ImplementationVerified.Multiplier(), ImplementationTested.Multiplier())
	assert.Greater(t, ImplementationTested.Multiplier(), ImplementationDone.Multiplier())
	assert.Greater(t, ImplementationDone.Multiplier(), ImplementationInProgress.Multiplier())
	assert.Greater(t, ImplementationInProgress.Multiplier(), ImplementationNone.Multiplier())
}
