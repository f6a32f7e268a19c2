package preprocessing

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// scalerEps は分母に加える微小値
const scalerEps = 1e-8

// NormType は正規化の方式
type NormType string

const (
	// NormMinMax は (x - min) / (max - min) で [0, 1] に写す
	NormMinMax NormType = "minmax"
	// NormStandard は (x - mean) / std で標準化する
	NormStandard NormType = "standard"
)

// InstanceScaler はサンプル単位（インスタンス統計）の正規化を行う
//
// 統計量は入力行列全体（フレーム × メル帯域）から毎回計算するため、
// 学習データ全体でのFitは不要。状態を持たないので並行利用できる。
type InstanceScaler struct {
	// NormType は正規化方式 (minmax / standard)
	NormType NormType
}

// NewInstanceScaler は新しいInstanceScalerを作成する
//
// パラメータ:
//   - normType: "minmax" または "standard"
//
// 戻り値:
//   - *InstanceScaler: 新しいInstanceScalerインスタンス
//   - error: 未知の方式が指定された場合
//
// 使用例:
//
//	scaler, err := preprocessing.NewInstanceScaler("minmax")
//	scaled, err := scaler.Transform(logMel)
func NewInstanceScaler(normType string) (*InstanceScaler, error) {
	switch NormType(normType) {
	case NormMinMax, NormStandard:
		return &InstanceScaler{NormType: NormType(normType)}, nil
	default:
		return nil, errors.NewValidationError("scaler.normtype", "must be minmax or standard", normType)
	}
}

// Transform は1サンプル分の特徴量行列を正規化した新しい行列を返す
//
// パラメータ:
//   - X: 特徴量 (n_frames × n_mels の行列)
//
// 戻り値:
//   - *mat.Dense: 正規化された特徴量
//   - error: 空の行列が渡された場合
func (s *InstanceScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewModelError("InstanceScaler.Transform", "empty data", errors.ErrEmptyData)
	}

	out := mat.DenseCopyOf(X)
	values := out.RawMatrix().Data

	switch s.NormType {
	case NormMinMax:
		lo, hi := floats.Min(values), floats.Max(values)
		floats.AddConst(-lo, values)
		floats.Scale(1/(hi-lo+scalerEps), values)
	case NormStandard:
		mean, std := stat.MeanStdDev(values, nil)
		floats.AddConst(-mean, values)
		floats.Scale(1/(std+scalerEps), values)
	default:
		return nil, errors.NewValueError("InstanceScaler.Transform", fmt.Sprintf("unknown norm type %q", s.NormType))
	}
	return out, nil
}

// String はスケーラーの文字列表現を返す
func (s *InstanceScaler) String() string {
	return fmt.Sprintf("InstanceScaler(norm_type=%s)", s.NormType)
}
