// Package metrics は検証・テストで用いる評価指標を提供する
package metrics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// MSEMatrix は同じ形状の2つの行列の全要素についてMSEを計算する
//
// 検証時の学生モデルと教師モデルのフレーム予測の差の計測に使う。
func MSEMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	rTrue, cTrue := yTrue.Dims()
	rPred, cPred := yPred.Dims()

	if rTrue == 0 || cTrue == 0 {
		return 0, errors.NewValueError("MSEMatrix", "empty matrix")
	}
	if rTrue != rPred {
		return 0, errors.NewDimensionError("MSEMatrix", rTrue, rPred, 0)
	}
	if cTrue != cPred {
		return 0, errors.NewDimensionError("MSEMatrix", cTrue, cPred, 1)
	}

	var diff mat.Dense
	diff.Sub(yTrue, yPred)
	norm := mat.Norm(&diff, 2) // Frobenius
	return norm * norm / float64(rTrue*cTrue), nil
}
