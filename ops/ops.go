// Package ops implements the tensor operations the encoder needs on top of
// whichever backend owns the operands.
package ops

import (
	"fmt"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/tensor"
)

// kernel runs one backend call writing into dst.
type kernel func(bk backend.Backend, dst backend.Storage) error

// run allocates an output of shape on like's device and fills it with k.
func run(like *tensor.Tensor, shape tensor.Shape, dtype tensor.DType, k kernel) (*tensor.Tensor, error) {
	bk, err := backend.GetForDevice(like.Device())
	if err != nil {
		return nil, err
	}
	dst, err := bk.Alloc(shape.NumElements() * int(dtype.Size()))
	if err != nil {
		return nil, err
	}
	if err := k(bk, dst); err != nil {
		dst.Free()
		return nil, err
	}
	return tensor.NewTensor(dst, shape, dtype), nil
}

// Add is element-wise a + b with broadcasting.
func Add(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	shape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}
	return run(a, shape, a.DType(), func(bk backend.Backend, dst backend.Storage) error {
		return bk.Add(dst, a.Storage(), b.Storage(), a.Shape(), b.Shape(), shape, a.DType())
	})
}

// MatMul is a @ b over the last two dimensions; leading dimensions of a
// are batch dimensions.
func MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	sa, sb := a.Shape(), b.Shape()
	if len(sa) < 2 || len(sb) < 2 {
		return nil, fmt.Errorf("matmul: need at least 2D operands, got %v @ %v", sa, sb)
	}
	shape := sa.Clone()
	shape[len(shape)-1] = sb.Last()
	return run(a, shape, a.DType(), func(bk backend.Backend, dst backend.Storage) error {
		return bk.MatMul(dst, a.Storage(), b.Storage(), sa, sb, a.DType())
	})
}

// Linear is x @ W^T + b for W stored as [out, in]. x may have any leading
// dimensions; bias may be nil.
func Linear(x, weight, bias *tensor.Tensor) (*tensor.Tensor, error) {
	xs, ws := x.Shape(), weight.Shape()
	if len(ws) != 2 || xs.Last() != ws[1] {
		return nil, fmt.Errorf("linear: input %v does not match weight %v", xs, ws)
	}
	shape := xs.Clone()
	shape[len(shape)-1] = ws[0]
	return run(x, shape, x.DType(), func(bk backend.Backend, dst backend.Storage) error {
		if err := bk.MatMulTransB(dst, x.Storage(), weight.Storage(), xs.Rows(), ws[1], ws[0], x.DType()); err != nil {
			return err
		}
		if bias == nil {
			return nil
		}
		return bk.Add(dst, dst, bias.Storage(), shape, bias.Shape(), shape, x.DType())
	})
}

// Tanh applies tanh element-wise.
func Tanh(t *tensor.Tensor) (*tensor.Tensor, error) {
	return run(t, t.Shape(), t.DType(), func(bk backend.Backend, dst backend.Storage) error {
		return bk.Tanh(dst, t.Storage(), t.Shape(), t.DType())
	})
}

// Gelu applies the erf form of GELU element-wise.
func Gelu(t *tensor.Tensor) (*tensor.Tensor, error) {
	return run(t, t.Shape(), t.DType(), func(bk backend.Backend, dst backend.Storage) error {
		return bk.Gelu(dst, t.Storage(), t.Shape(), t.DType())
	})
}

// Softmax normalises along axis; negative axes count from the end.
func Softmax(t *tensor.Tensor, axis int) (*tensor.Tensor, error) {
	return run(t, t.Shape(), t.DType(), func(bk backend.Backend, dst backend.Storage) error {
		return bk.Softmax(dst, t.Storage(), t.Shape(), axis, t.DType())
	})
}

// LayerNorm normalises over normAxis and applies the optional affine
// gamma and beta.
func LayerNorm(x, gamma, beta *tensor.Tensor, normAxis int, eps float64) (*tensor.Tensor, error) {
	var gs, bs backend.Storage
	if gamma != nil {
		gs = gamma.Storage()
	}
	if beta != nil {
		bs = beta.Storage()
	}
	return run(x, x.Shape(), x.DType(), func(bk backend.Backend, dst backend.Storage) error {
		return bk.LayerNorm(dst, x.Storage(), gs, bs, x.Shape(), normAxis, eps, x.DType())
	})
}

// Embedding gathers rows of weight [vocab, dim] for int64 ids of any shape.
// The result has shape ids.Shape() + [dim].
func Embedding(weight, ids *tensor.Tensor) (*tensor.Tensor, error) {
	if ids.DType() != tensor.Int64 {
		return nil, fmt.Errorf("embedding: ids must be int64, got %s", ids.DType())
	}
	vocab, dim := weight.Shape()[0], weight.Shape()[1]
	shape := append(ids.Shape().Clone(), dim)
	return run(weight, shape, weight.DType(), func(bk backend.Backend, dst backend.Storage) error {
		return bk.Embedding(dst, weight.Storage(), ids.Storage(), vocab, dim, ids.NumElements(), weight.DType())
	})
}
