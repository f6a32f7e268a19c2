package errors

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "TrainOneEpoch",
			kind:    "invalid batch",
			err:     fmt.Errorf("test error"),
			wantMsg: "sed: TrainOneEpoch: invalid batch: test error",
		},
		{
			name:    "without original error",
			op:      "Validate",
			kind:    "no validation data",
			wantMsg: "sed: Validate: no validation data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			assert.True(t, strings.Contains(formatted, "errors_test.go"))

			var modelErr *ModelError
			assert.True(t, As(err, &modelErr))
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("EncodeStrong", 156, 155, 0)
	assert.Equal(t, "sed: EncodeStrong: dimension mismatch on axis 0 (rows). Expected 156, got 155", err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 156, dimErr.Expected)
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("training.batch_size", "must have one entry per training subset", []int{6, 6})
	assert.Contains(t, err.Error(), "training.batch_size")
	assert.Contains(t, err.Error(), "[6 6]")

	var vErr *ValidationError
	require.True(t, As(err, &vErr))
	assert.Equal(t, "training.batch_size", vErr.ParamName)
}

func TestCheckpointError(t *testing.T) {
	cause := fmt.Errorf("unexpected EOF")
	err := NewCheckpointError("load", "/tmp/best.ckpt", cause)

	assert.Contains(t, err.Error(), "/tmp/best.ckpt")
	assert.True(t, Is(err, cause))

	var ckErr *CheckpointError
	require.True(t, As(err, &ckErr))
	assert.Equal(t, "load", ckErr.Op)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Error().EmbedObject(ckErr).Msg("failed")
	assert.Contains(t, buf.String(), `"type":"CheckpointError"`)
}

func TestSentinelWrapping(t *testing.T) {
	err := Wrapf(ErrZeroEpochLength, "subset %d", 2)
	assert.True(t, Is(err, ErrZeroEpochLength))
	assert.False(t, Is(err, ErrSourceMissing))
	assert.Contains(t, err.Error(), "subset 2")
}

func TestWarn_RoutesToZerolog(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("f1_macro", "no reference events", 0))
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error(), "f1_macro")
}

func TestNumericalHelpers(t *testing.T) {
	assert.NoError(t, CheckScalar("loss", 0.3, 1))
	assert.Error(t, CheckScalar("loss", math.NaN(), 1))
	assert.Error(t, CheckNumericalStability("grad", []float64{1, math.Inf(1)}, 4))

	assert.Equal(t, 0.0, SafeDivide(1, 0))
	assert.Equal(t, 1.0, ClipValue(3, 0, 1))

	grads := [][]float64{{3}, {4}}
	norm := ClipGradNorm(grads, 1)
	assert.InDelta(t, 5.0, norm, 1e-12)
	assert.InDelta(t, 1.0, math.Hypot(grads[0][0], grads[1][0]), 1e-5)

	untouched := [][]float64{{0.1, 0.2}}
	ClipGradNorm(untouched, 0)
	assert.Equal(t, []float64{0.1, 0.2}, untouched[0])
}
