package model

import (
	"fmt"
	"sort"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Tensor は形状付きのパラメータ（行優先で平坦化）
type Tensor struct {
	// Shape は各次元の大きさ
	Shape []int

	// Data は要素値（len(Data) == Shapeの積）
	Data []float64
}

// NewTensor は形状と値からTensorを作成する（値はコピーされる）
func NewTensor(data []float64, shape ...int) Tensor {
	return Tensor{Shape: append([]int(nil), shape...), Data: append([]float64(nil), data...)}
}

// Size は要素数を返す
func (t Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// StateDict はパラメータ名からTensorへの対応（シリアライゼーション用）
type StateDict map[string]Tensor

// Keys はパラメータ名をソートして返す
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate は各Tensorの要素数が形状と一致するか検証する
func (sd StateDict) Validate() error {
	for _, k := range sd.Keys() {
		t := sd[k]
		if t.Size() != len(t.Data) {
			return errors.NewValidationError(k, fmt.Sprintf("shape %v needs %d values", t.Shape, t.Size()), len(t.Data))
		}
	}
	return nil
}

// Compatible はotherが同じキーと形状を持つか検証する
func (sd StateDict) Compatible(other StateDict) error {
	if len(sd) != len(other) {
		return errors.NewValueError("StateDict.Compatible", fmt.Sprintf("expected %d tensors, got %d", len(sd), len(other)))
	}
	for _, k := range sd.Keys() {
		o, ok := other[k]
		if !ok {
			return errors.NewValueError("StateDict.Compatible", "missing tensor "+k)
		}
		if fmt.Sprint(o.Shape) != fmt.Sprint(sd[k].Shape) {
			return errors.NewValueError("StateDict.Compatible",
				fmt.Sprintf("tensor %s: expected shape %v, got %v", k, sd[k].Shape, o.Shape))
		}
	}
	return nil
}

// Clone はStateDictのディープコピーを作成
func (sd StateDict) Clone() StateDict {
	out := make(StateDict, len(sd))
	for k, t := range sd {
		out[k] = NewTensor(t.Data, t.Shape...)
	}
	return out
}
