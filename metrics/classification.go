package metrics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Counts は真陽性・偽陽性・偽陰性の件数
type Counts struct {
	TP, FP, FN int
}

// Add はcを加算する
func (c *Counts) Add(o Counts) {
	c.TP += o.TP
	c.FP += o.FP
	c.FN += o.FN
}

// F1 は2TP / (2TP + FP + FN)を返す。分母が0のときは0
func (c Counts) F1() float64 {
	return errors.SafeDivide(float64(2*c.TP), float64(2*c.TP+c.FP+c.FN))
}

// Precision はTP / (TP + FP)を返す
func (c Counts) Precision() float64 {
	return errors.SafeDivide(float64(c.TP), float64(c.TP+c.FP))
}

// Recall はTP / (TP + FN)を返す
func (c Counts) Recall() float64 {
	return errors.SafeDivide(float64(c.TP), float64(c.TP+c.FN))
}

// MultiLabelCounts は2値の多ラベル行列（サンプル × クラス）からクラスごとの件数を数える
//
// パラメータ:
//   - yTrue: 正解ラベル（0/1）
//   - yPred: 予測ラベル（0/1）
//
// 戻り値:
//   - []Counts: クラスごとの件数
//   - error: 形状が一致しない場合
func MultiLabelCounts(yTrue, yPred mat.Matrix) ([]Counts, error) {
	r, c := yTrue.Dims()
	rp, cp := yPred.Dims()
	if r != rp {
		return nil, errors.NewDimensionError("MultiLabelCounts", r, rp, 0)
	}
	if c != cp {
		return nil, errors.NewDimensionError("MultiLabelCounts", c, cp, 1)
	}

	out := make([]Counts, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t, p := yTrue.At(i, j) != 0, yPred.At(i, j) != 0
			switch {
			case t && p:
				out[j].TP++
			case p:
				out[j].FP++
			case t:
				out[j].FN++
			}
		}
	}
	return out, nil
}

// MacroF1 はクラスごとのF1の単純平均を返す
//
// 正解にも予測にも現れないクラスのF1は0として平均に含め、
// UndefinedMetricWarningを発行する。
func MacroF1(counts []Counts, labels []string) float64 {
	if len(counts) == 0 {
		return 0
	}
	sum := 0.0
	for i, c := range counts {
		if c.TP+c.FP+c.FN == 0 {
			name := "class"
			if i < len(labels) {
				name = labels[i]
			}
			errors.Warn(errors.NewUndefinedMetricWarning("f1/"+name, "no true nor predicted samples", 0))
		}
		sum += c.F1()
	}
	return sum / float64(len(counts))
}

// Binarize はthreshold以上の要素を1、それ以外を0にした新しい行列を返す
func Binarize(m mat.Matrix, threshold float64) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		if v >= threshold {
			return 1
		}
		return 0
	}, m)
	return out
}
