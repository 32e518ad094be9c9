package config

import (
	"testing"

	"causalfix/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(42), cfg.Run.Seed)
	assert.Equal(t, "Y", cfg.Run.Target)
	assert.Equal(t, []int{16}, cfg.Fit.Hidden)
	assert.Equal(t, 32, cfg.Training.BatchSize)
	assert.Equal(t, 50, cfg.Training.Epochs)
	assert.False(t, cfg.Training.Biases)
	assert.Equal(t, "interventions", cfg.Training.Axis)
	assert.InDelta(t, 1e-3, cfg.Training.LearningRate, 1e-12)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CAUSALFIX_SEED", "7")
	t.Setenv("CAUSALFIX_HIDDEN", "8, 4")
	t.Setenv("CAUSALFIX_BIASES", "true")
	t.Setenv("CAUSALFIX_EPOCHS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Run.Seed)
	assert.Equal(t, []int{8, 4}, cfg.Fit.Hidden)
	assert.True(t, cfg.Training.Biases)
	assert.Equal(t, 3, cfg.Training.Epochs)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero hidden width", "CAUSALFIX_HIDDEN", "0"},
		{"one sample", "CAUSALFIX_SAMPLES", "1"},
		{"beta out of range", "CAUSALFIX_BETA1", "1.0"},
		{"zero batch", "CAUSALFIX_BATCH_SIZE", "0"},
		{"unknown axis", "CAUSALFIX_VARIANCE_AXIS", "columns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			cfg, err := Load()
			require.NoError(t, err)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}

func TestLoadRejectsMalformedHiddenList(t *testing.T) {
	t.Setenv("CAUSALFIX_HIDDEN", "8,x")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestOverrideBeforeValidate(t *testing.T) {
	t.Setenv("CAUSALFIX_BATCH_SIZE", "0")
	cfg, err := Load()
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	cfg.Training.BatchSize = 16
	assert.NoError(t, cfg.Validate())
}
