package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ransomeye/core/pkg/config"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TRUST_STORE_PATH", "/etc/ransomeye/trust")
	t.Setenv("POLICY_DIR", "/etc/ransomeye/policies")
	t.Setenv("AUDIT_LOG_PATH", "/var/log/ransomeye/audit.jsonl")
}

func TestLoad_DefaultsForOptionalFields(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_ENTITIES", "")
	t.Setenv("CLOCK_TOLERANCE_SECONDS", "")
	t.Setenv("ADMISSION_BUDGET_MS", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 100000, cfg.MaxEntities)
	assert.Equal(t, 5, cfg.ClockToleranceSeconds)
	assert.Equal(t, 200, cfg.AdmissionBudgetMS)
	assert.Equal(t, "./decisions.db", cfg.DecisionLogPath)
	assert.Equal(t, 0.75, cfg.DetectionThreshold)
	assert.Nil(t, cfg.PlaybookIDs)
}

func TestLoad_PlaybookIDsSplitAndTrimmed(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PLAYBOOK_IDS", "isolate-host, revoke-creds ,block-egress")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"isolate-host", "revoke-creds", "block-egress"}, cfg.PlaybookIDs)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_ENTITIES", "5000")
	t.Setenv("CLOCK_TOLERANCE_SECONDS", "10")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.MaxEntities)
	assert.Equal(t, 10, cfg.ClockToleranceSeconds)
}

func TestLoad_MissingRequiredFieldsFail(t *testing.T) {
	t.Setenv("TRUST_STORE_PATH", "")
	t.Setenv("POLICY_DIR", "")
	t.Setenv("AUDIT_LOG_PATH", "")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_InvalidNumericFieldFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_ENTITIES", "not-a-number")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_InvalidDetectionThresholdFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DETECTION_THRESHOLD", "not-a-float")

	_, err := config.Load()
	require.Error(t, err)
}
