package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMSEMatrix(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   mat.Matrix
		yPred   mat.Matrix
		want    float64
		wantErr bool
	}{
		{
			name:  "identical predictions",
			yTrue: mat.NewDense(2, 2, []float64{0.1, 0.5, 0.9, 0.3}),
			yPred: mat.NewDense(2, 2, []float64{0.1, 0.5, 0.9, 0.3}),
			want:  0,
		},
		{
			name:  "student against teacher",
			yTrue: mat.NewDense(2, 2, []float64{0.9, 0.1, 0.4, 0.6}),
			yPred: mat.NewDense(2, 2, []float64{1.0, 0.0, 0.4, 0.2}),
			want:  (0.01 + 0.01 + 0 + 0.16) / 4,
		},
		{
			name:    "column mismatch",
			yTrue:   mat.NewDense(2, 2, nil),
			yPred:   mat.NewDense(2, 3, nil),
			wantErr: true,
		},
		{
			name:    "row mismatch",
			yTrue:   mat.NewDense(2, 2, nil),
			yPred:   mat.NewDense(3, 2, nil),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MSEMatrix(tt.yTrue, tt.yPred)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}
