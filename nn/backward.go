package nn

import (
	"fmt"
	"math"

	"github.com/djeday123/reviewtune/backend/cpu"
	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/tensor"
)

// Backward takes dout [..., OutF] for input x [..., InF], accumulates the
// weight and bias gradients and returns dx.
func (l *Linear) Backward(x, dout *tensor.Tensor) (*tensor.Tensor, error) {
	rows := x.Shape().Rows()
	if dout.Shape().Rows() != rows || dout.Shape().Last() != l.OutF {
		return nil, fmt.Errorf("linear backward: dout %v does not match input %v", dout.Shape(), x.Shape())
	}
	dy, err := dout.View(tensor.Shape{rows, l.OutF})
	if err != nil {
		return nil, err
	}
	xs, err := x.View(tensor.Shape{rows, l.InF})
	if err != nil {
		return nil, err
	}

	// W is [out, in], so dx = dy @ W and dW = dy^T @ x.
	dx, err := ops.MatMul(dy, l.Weight)
	if err != nil {
		return nil, err
	}
	g := dy.ToFloat32Slice()
	dW, err := ops.MatMul(tensor.MustFromSlice(transpose(g, rows, l.OutF), tensor.Shape{l.OutF, rows}), xs)
	if err != nil {
		return nil, err
	}
	accumulateGrad(l.Weight, dW)

	if l.Bias != nil {
		db := make([]float32, l.OutF)
		for r := 0; r < rows; r++ {
			for o, v := range g[r*l.OutF : (r+1)*l.OutF] {
				db[o] += v
			}
		}
		accumulateGrad(l.Bias, tensor.MustFromSlice(db, tensor.Shape{l.OutF}))
	}
	return dx.View(x.Shape())
}

// transpose returns the [cols, rows] transpose of a row-major [rows, cols]
// matrix.
func transpose(a []float32, rows, cols int) []float32 {
	t := make([]float32, len(a))
	for r := 0; r < rows; r++ {
		for c, v := range a[r*cols : (r+1)*cols] {
			t[c*rows+r] = v
		}
	}
	return t
}

// Backward recomputes the row statistics of x, accumulates dGamma and dBeta
// and returns dx.
func (ln *LayerNorm) Backward(x, dout *tensor.Tensor) (*tensor.Tensor, error) {
	xs, dy, gamma := x.ToFloat32Slice(), dout.ToFloat32Slice(), ln.Gamma.ToFloat32Slice()
	width := x.Shape().Last()
	if len(dy) != len(xs) {
		return nil, fmt.Errorf("layernorm backward: dout %v does not match input %v", dout.Shape(), x.Shape())
	}

	dx := make([]float32, len(xs))
	dGamma := make([]float32, width)
	dBeta := make([]float32, width)
	xhat := make([]float64, width)
	n := float64(width)

	for off := 0; off < len(xs); off += width {
		row, g := xs[off:off+width], dy[off:off+width]
		var mean, sq float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= n
		for _, v := range row {
			sq += (float64(v) - mean) * (float64(v) - mean)
		}
		inv := 1 / math.Sqrt(sq/n+ln.Eps)

		// dx = inv/N * (N*h - sum(h) - xhat*sum(h*xhat)), h = dy*gamma
		var sumH, sumHX float64
		for i, v := range row {
			xhat[i] = (float64(v) - mean) * inv
			dGamma[i] += g[i] * float32(xhat[i])
			dBeta[i] += g[i]
			h := float64(g[i] * gamma[i])
			sumH += h
			sumHX += h * xhat[i]
		}
		for i := range row {
			h := float64(g[i] * gamma[i])
			dx[off+i] = float32(inv / n * (n*h - sumH - xhat[i]*sumHX))
		}
	}

	accumulateGrad(ln.Gamma, tensor.MustFromSlice(dGamma, tensor.Shape{width}))
	accumulateGrad(ln.Beta, tensor.MustFromSlice(dBeta, tensor.Shape{width}))
	return tensor.FromSlice(dx, x.Shape())
}

// Backward scatter-adds dout [..., EmbedDim] into the Weight rows picked by
// indices.
func (e *Embedding) Backward(indices, dout *tensor.Tensor) error {
	ids, g := indices.ToInt64Slice(), dout.ToFloat32Slice()
	if len(g) != len(ids)*e.EmbedDim {
		return fmt.Errorf("embedding backward: dout %v does not match %d indices", dout.Shape(), len(ids))
	}
	grad := ensureGrad(e.Weight)
	d := e.EmbedDim
	for s, id := range ids {
		row := grad[int(id)*d : (int(id)+1)*d]
		for j, v := range g[s*d : (s+1)*d] {
			row[j] += v
		}
	}
	return nil
}

// accumulateGrad adds grad into param's gradient, adopting grad when there
// is none yet.
func accumulateGrad(param, grad *tensor.Tensor) {
	if param.Grad() == nil {
		param.SetGrad(grad)
		return
	}
	acc := param.Grad().ToFloat32Slice()
	for i, v := range grad.ToFloat32Slice() {
		acc[i] += v
	}
}

// ensureGrad returns param's gradient buffer, zero-filled on first use.
func ensureGrad(param *tensor.Tensor) []float32 {
	if param.Grad() == nil {
		param.SetGrad(tensor.MustFromSlice(make([]float32, param.NumElements()), param.Shape()))
	}
	return param.Grad().ToFloat32Slice()
}

// zipWith returns f(a[i], b[i]) shaped like a.
func zipWith(a, b *tensor.Tensor, f func(x, y float32) float32) *tensor.Tensor {
	xs, ys := a.ToFloat32Slice(), b.ToFloat32Slice()
	out := make([]float32, len(xs))
	for i := range xs {
		out[i] = f(xs[i], ys[i])
	}
	return tensor.MustFromSlice(out, a.Shape())
}

// geluBackward takes the pre-activation x.
func geluBackward(x, dout *tensor.Tensor) *tensor.Tensor {
	return zipWith(x, dout, func(v, g float32) float32 { return g * cpu.GeluGradScalar(v) })
}

// tanhBackward takes the activation y = tanh(x).
func tanhBackward(y, dout *tensor.Tensor) *tensor.Tensor {
	return zipWith(y, dout, func(v, g float32) float32 { return g * (1 - v*v) })
}

func addTensors(ts ...*tensor.Tensor) *tensor.Tensor {
	out := make([]float32, ts[0].NumElements())
	for _, t := range ts {
		for i, v := range t.ToFloat32Slice() {
			out[i] += v
		}
	}
	return tensor.MustFromSlice(out, ts[0].Shape())
}
