package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

func TestParseGPUs(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"2", 2, false},
		{"-1", 1, false},
		{"0,1", 2, false},
		{"1, 3,", 2, false},
		{"abc", 0, true},
		{"-2", 0, true},
		{"0,x", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseGPUs(tt.in)
			if tt.wantErr {
				var ve *errors.ValidationError
				assert.True(t, errors.As(err, &ve))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_CPU(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)

	info, err := Resolve("0", "", 3, logger)
	require.NoError(t, err)
	assert.Equal(t, CPU, info.Backend)
	assert.Equal(t, 3, info.Workers)
	assert.False(t, logger.ContainsMessage("GPU training is not available, falling back to CPU"))
	assert.True(t, logger.ContainsMessage("device resolved"))
}

func TestResolve_GPUFallsBack(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)

	info, err := Resolve("1", "dp", 0, logger)
	require.NoError(t, err)
	assert.Equal(t, CPU, info.Backend)
	assert.Equal(t, 1, info.RequestedGPUs)
	assert.GreaterOrEqual(t, info.Workers, 1)
	assert.True(t, logger.ContainsMessage("GPU training is not available, falling back to CPU"))
	assert.True(t, logger.ContainsMessage("distributed backend ignored on CPU"))
}

func TestResolve_InvalidFlag(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	_, err := Resolve("x", "", 0, logger)
	assert.Error(t, err)
}
