package ops

import (
	"fmt"
	"math"

	"github.com/djeday123/reviewtune/tensor"
)

// classification validates [batch, classes] logits against [batch] int64
// targets and returns both as slices.
func classification(logits, targets *tensor.Tensor) (x []float32, y []int64, classes int, err error) {
	ls := logits.Shape()
	if len(ls) != 2 {
		return nil, nil, 0, fmt.Errorf("cross entropy: logits must be [batch, classes], got %v", ls)
	}
	if targets.DType() != tensor.Int64 || targets.NumElements() != ls[0] {
		return nil, nil, 0, fmt.Errorf("cross entropy: targets %v %s do not match logits %v", targets.Shape(), targets.DType(), ls)
	}
	y = targets.ToInt64Slice()
	for _, t := range y {
		if int(t) >= ls[1] {
			return nil, nil, 0, fmt.Errorf("cross entropy: target %d out of range [0, %d)", t, ls[1])
		}
	}
	return logits.ToFloat32Slice(), y, ls[1], nil
}

// softmaxInto writes softmax(row) into p and returns log(sum(exp(row))).
func softmaxInto(p []float64, row []float32) float64 {
	peak := float64(row[0])
	for _, v := range row[1:] {
		peak = math.Max(peak, float64(v))
	}
	var sum float64
	for i, v := range row {
		p[i] = math.Exp(float64(v) - peak)
		sum += p[i]
	}
	for i := range p {
		p[i] /= sum
	}
	return peak + math.Log(sum)
}

// CrossEntropyLoss is the mean negative log-likelihood of targets under
// softmax(logits), returned as a [1] tensor. Rows with a negative target
// are ignored.
func CrossEntropyLoss(logits, targets *tensor.Tensor) (*tensor.Tensor, error) {
	x, y, k, err := classification(logits, targets)
	if err != nil {
		return nil, err
	}
	p := make([]float64, k)
	var total float64
	var n int
	for r, t := range y {
		if t < 0 {
			continue
		}
		row := x[r*k : (r+1)*k]
		total += softmaxInto(p, row) - float64(row[t])
		n++
	}
	if n > 0 {
		total /= float64(n)
	}
	return tensor.FromSlice([]float32{float32(total)}, tensor.Shape{1})
}

// CrossEntropyBackward is d(CrossEntropyLoss)/d(logits):
// (softmax - onehot) / counted rows.
func CrossEntropyBackward(logits, targets *tensor.Tensor) (*tensor.Tensor, error) {
	x, y, k, err := classification(logits, targets)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, t := range y {
		if t >= 0 {
			n++
		}
	}
	grad := make([]float32, len(x))
	p := make([]float64, k)
	for r, t := range y {
		if t < 0 {
			continue
		}
		softmaxInto(p, x[r*k:(r+1)*k])
		p[t]--
		for c, v := range p {
			grad[r*k+c] = float32(v / float64(n))
		}
	}
	return tensor.FromSlice(grad, logits.Shape())
}

// ArgMax returns the index of the largest value in each row. Ties resolve
// to the lowest index.
func ArgMax(logits *tensor.Tensor) []int {
	k := logits.Shape().Last()
	x := logits.ToFloat32Slice()
	out := make([]int, logits.Shape().Rows())
	for r := range out {
		row := x[r*k : (r+1)*k]
		for i, v := range row {
			if v > row[out[r]] {
				out[r] = i
			}
		}
	}
	return out
}
