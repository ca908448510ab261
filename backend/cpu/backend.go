package cpu

import (
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/core"
)

// Backend implements backend.Backend for CPU.
type Backend struct{}

func init() {
	backend.Register(&Backend{})
}

func (b *Backend) Name() string                   { return "cpu" }
func (b *Backend) DeviceType() backend.DeviceType { return backend.CPU }

// ---- Memory ----

func (b *Backend) Alloc(byteLen int) (backend.Storage, error) {
	if byteLen < 0 {
		return nil, fmt.Errorf("alloc: negative size %d", byteLen)
	}
	return newStorage(byteLen), nil
}

func (b *Backend) Copy(dst, src backend.Storage, byteLen int) error {
	if dst.ByteLen() < byteLen || src.ByteLen() < byteLen {
		return fmt.Errorf("copy: %d bytes exceeds buffer (dst %d, src %d)", byteLen, dst.ByteLen(), src.ByteLen())
	}
	copy(dst.Bytes()[:byteLen], src.Bytes()[:byteLen])
	return nil
}

func (b *Backend) Fill(dst backend.Storage, shape core.Shape, value float64, dtype core.DType) error {
	n := shape.NumElements()
	switch dtype {
	case core.Float32:
		fill(f32Slice(dst, n), float32(value))
	case core.Float64:
		fill(f64Slice(dst, n), value)
	case core.Int32:
		fill(i32Slice(dst, n), int32(value))
	case core.Int64:
		fill(i64Slice(dst, n), int64(value))
	default:
		return fmt.Errorf("fill: unsupported dtype %s", dtype)
	}
	return nil
}

func fill[T any](data []T, v T) {
	for i := range data {
		data[i] = v
	}
}

// ---- Unary ops ----

func (b *Backend) Tanh(dst, src backend.Storage, shape core.Shape, dtype core.DType) error {
	return unaryOp(dst, src, shape, dtype, func(x float32) float32 {
		return float32(math.Tanh(float64(x)))
	})
}

// Gelu uses the exact erf form, matching BERT checkpoints.
func (b *Backend) Gelu(dst, src backend.Storage, shape core.Shape, dtype core.DType) error {
	return unaryOp(dst, src, shape, dtype, GeluScalar)
}

// GeluScalar is 0.5 * x * (1 + erf(x / sqrt(2))).
func GeluScalar(x float32) float32 {
	return float32(0.5 * float64(x) * (1 + math.Erf(float64(x)/math.Sqrt2)))
}

// GeluGradScalar is the derivative of GeluScalar.
func GeluGradScalar(x float32) float32 {
	xf := float64(x)
	cdf := 0.5 * (1 + math.Erf(xf/math.Sqrt2))
	pdf := math.Exp(-0.5*xf*xf) / math.Sqrt(2*math.Pi)
	return float32(cdf + xf*pdf)
}

// ---- Binary ops ----

func (b *Backend) Add(dst, a, bStore backend.Storage, shapeA, shapeB, shapeOut core.Shape, dtype core.DType) error {
	return binaryOp(dst, a, bStore, shapeA, shapeB, shapeOut, dtype, func(x, y float32) float32 { return x + y })
}

// ---- MatMul ----

func (b *Backend) MatMul(dst, a, bStore backend.Storage, shapeA, shapeB core.Shape, dtype core.DType) error {
	if dtype != core.Float32 {
		return fmt.Errorf("matmul: only float32 supported on cpu, got %s", dtype)
	}
	if len(shapeA) < 2 || len(shapeB) < 2 {
		return fmt.Errorf("matmul: need at least 2D operands, got %v @ %v", shapeA, shapeB)
	}

	ndimA := len(shapeA)
	ndimB := len(shapeB)
	M := shapeA[ndimA-2]
	K := shapeA[ndimA-1]
	N := shapeB[ndimB-1]
	if shapeB[ndimB-2] != K {
		return fmt.Errorf("matmul: inner dims differ: %v @ %v", shapeA, shapeB)
	}

	// Compute batch size
	batchSize := 1
	for i := 0; i < ndimA-2; i++ {
		batchSize *= shapeA[i]
	}
	// B without batch dims is shared by every batch.
	bBatched := ndimB > 2

	aData := f32Slice(a, batchSize*M*K)
	cData := f32Slice(dst, batchSize*M*N)
	var bData []float32
	if bBatched {
		bData = f32Slice(bStore, batchSize*K*N)
	} else {
		bData = f32Slice(bStore, K*N)
	}

	for batch := 0; batch < batchSize; batch++ {
		aOff := batch * M * K
		bOff := 0
		if bBatched {
			bOff = batch * K * N
		}
		cOff := batch * M * N
		err := matmulF32(
			cData[cOff:cOff+M*N],
			aData[aOff:aOff+M*K],
			bData[bOff:bOff+K*N],
			M, K, N,
		)
		if err != nil {
			return fmt.Errorf("matmul batch %d: %w", batch, err)
		}
	}
	return nil
}

func (b *Backend) MatMulTransB(dst, a, bStore backend.Storage, m, k, n int, dtype core.DType) error {
	if dtype != core.Float32 {
		return fmt.Errorf("matmul: only float32 supported on cpu, got %s", dtype)
	}
	aData := f32Slice(a, m*k)
	bData := f32Slice(bStore, n*k)
	cData := f32Slice(dst, m*n)
	return parallelRows(m, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			row := aData[i*k : (i+1)*k]
			for j := 0; j < n; j++ {
				col := bData[j*k : (j+1)*k]
				sum := float32(0)
				for p, v := range row {
					sum += v * col[p]
				}
				cData[i*n+j] = sum
			}
		}
	})
}

// matmulF32 performs C = A @ B with tiling for cache efficiency.
// Row tiles are spread over the available CPUs.
func matmulF32(c, a, b []float32, M, K, N int) error {
	const tileSize = 32

	return parallelRows(M, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			clear(c[i*N : (i+1)*N])
		}
		for i0 := lo; i0 < hi; i0 += tileSize {
			iEnd := min(i0+tileSize, hi)
			for k0 := 0; k0 < K; k0 += tileSize {
				kEnd := min(k0+tileSize, K)
				for j0 := 0; j0 < N; j0 += tileSize {
					jEnd := min(j0+tileSize, N)
					// Micro-kernel: tile multiplication
					for i := i0; i < iEnd; i++ {
						for k := k0; k < kEnd; k++ {
							aik := a[i*K+k]
							if aik == 0 {
								continue
							}
							for j := j0; j < jEnd; j++ {
								c[i*N+j] += aik * b[k*N+j]
							}
						}
					}
				}
			}
		}
	})
}

// minRowsPerWorker keeps small products on the calling goroutine.
const minRowsPerWorker = 16

// parallelRows splits [0, rows) into contiguous chunks, one per worker.
// A panic in fn is returned as a *backend.KernelPanicError.
func parallelRows(rows int, fn func(lo, hi int)) error {
	workers := runtime.GOMAXPROCS(0)
	if limit := rows / minRowsPerWorker; limit < workers {
		workers = limit
	}
	if workers <= 1 {
		return guarded(fn, 0, rows)
	}

	chunk := (rows + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < rows; lo += chunk {
		lo, hi := lo, min(lo+chunk, rows)
		g.Go(func() error {
			return guarded(fn, lo, hi)
		})
	}
	return g.Wait()
}

func guarded(fn func(lo, hi int), lo, hi int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &backend.KernelPanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn(lo, hi)
	return nil
}

// ---- Normalisation ----

// Softmax normalises along axis. Slices along the axis are strided by the
// product of the trailing dimensions.
func (b *Backend) Softmax(dst, src backend.Storage, shape core.Shape, axis int, dtype core.DType) error {
	if dtype != core.Float32 {
		return fmt.Errorf("softmax: only float32 supported, got %s", dtype)
	}
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return fmt.Errorf("softmax: axis %d out of range for shape %v", axis, shape)
	}

	n := shape.NumElements()
	in, out := f32Slice(src, n), f32Slice(dst, n)
	width := shape[axis]
	stride := core.Shape(shape[axis+1:]).NumElements()
	if n == 0 {
		return nil
	}
	lanes := n / width

	return parallelRows(lanes, func(lo, hi int) {
		for lane := lo; lane < hi; lane++ {
			base := (lane/stride)*width*stride + lane%stride
			peak := in[base]
			for j := 1; j < width; j++ {
				peak = max(peak, in[base+j*stride])
			}
			var sum float64
			for j := 0; j < width; j++ {
				e := math.Exp(float64(in[base+j*stride] - peak))
				out[base+j*stride] = float32(e)
				sum += e
			}
			inv := float32(1 / sum)
			for j := 0; j < width; j++ {
				out[base+j*stride] *= inv
			}
		}
	})
}

// LayerNorm normalises every trailing block starting at normAxis and
// applies the optional per-feature scale and shift.
func (b *Backend) LayerNorm(dst, src, gamma, beta backend.Storage, shape core.Shape, normAxis int, eps float64, dtype core.DType) error {
	if dtype != core.Float32 {
		return fmt.Errorf("layernorm: only float32 supported, got %s", dtype)
	}

	n := shape.NumElements()
	in, out := f32Slice(src, n), f32Slice(dst, n)
	width := core.Shape(shape[normAxis:]).NumElements()
	if n == 0 || width == 0 {
		return nil
	}
	var g, bt []float32
	if gamma != nil {
		g = f32Slice(gamma, width)
	}
	if beta != nil {
		bt = f32Slice(beta, width)
	}

	return parallelRows(n/width, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			x, y := in[r*width:(r+1)*width], out[r*width:(r+1)*width]
			var mean, sq float64
			for _, v := range x {
				mean += float64(v)
			}
			mean /= float64(width)
			for _, v := range x {
				d := float64(v) - mean
				sq += d * d
			}
			inv := 1 / math.Sqrt(sq/float64(width)+eps)
			for i, v := range x {
				h := float32((float64(v) - mean) * inv)
				if g != nil {
					h *= g[i]
				}
				if bt != nil {
					h += bt[i]
				}
				y[i] = h
			}
		}
	})
}

// ---- Embedding ----

func (b *Backend) Embedding(dst, weight, indices backend.Storage, vocabSize, embedDim, seqLen int, dtype core.DType) error {
	if dtype != core.Float32 {
		return fmt.Errorf("embedding: only float32 supported")
	}

	wData := f32Slice(weight, vocabSize*embedDim)
	iData := i64Slice(indices, seqLen)
	oData := f32Slice(dst, seqLen*embedDim)

	for s := 0; s < seqLen; s++ {
		idx := int(iData[s])
		if idx < 0 || idx >= vocabSize {
			return fmt.Errorf("embedding index %d out of range [0, %d)", idx, vocabSize)
		}
		copy(oData[s*embedDim:(s+1)*embedDim], wData[idx*embedDim:(idx+1)*embedDim])
	}
	return nil
}

// ---- Helpers ----

func typedSlice[T any](s backend.Storage, n int) []T {
	b := s.Bytes()
	if n == 0 || len(b) == 0 {
		return nil
	}
	var zero T
	if need := n * int(unsafe.Sizeof(zero)); need > len(b) {
		panic(fmt.Sprintf("cpu: storage holds %d bytes, need %d", len(b), need))
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

func f32Slice(s backend.Storage, n int) []float32 { return typedSlice[float32](s, n) }
func f64Slice(s backend.Storage, n int) []float64 { return typedSlice[float64](s, n) }
func i32Slice(s backend.Storage, n int) []int32   { return typedSlice[int32](s, n) }
func i64Slice(s backend.Storage, n int) []int64   { return typedSlice[int64](s, n) }

// unaryOp maps fn over src into dst.
func unaryOp(dst, src backend.Storage, shape core.Shape, dtype core.DType, fn func(float32) float32) error {
	if dtype != core.Float32 {
		return fmt.Errorf("unary op: only float32 supported, got %s", dtype)
	}
	n := shape.NumElements()
	out := f32Slice(dst, n)
	for i, v := range f32Slice(src, n) {
		out[i] = fn(v)
	}
	return nil
}

// binaryOp applies fn element-wise, broadcasting a and b to shapeOut.
func binaryOp(dst, aStore, bStore backend.Storage, shapeA, shapeB, shapeOut core.Shape, dtype core.DType, fn func(float32, float32) float32) error {
	if dtype != core.Float32 {
		return fmt.Errorf("binary op: only float32 supported, got %s", dtype)
	}

	n := shapeOut.NumElements()
	x := f32Slice(aStore, shapeA.NumElements())
	y := f32Slice(bStore, shapeB.NumElements())
	z := f32Slice(dst, n)

	switch {
	case shapeA.Equal(shapeB):
		for i := range z {
			z[i] = fn(x[i], y[i])
		}
		return nil
	case shapeA.Equal(shapeOut) && len(shapeB) <= len(shapeOut) && len(y) > 0 && n%len(y) == 0 && shapeB.Equal(shapeOut[len(shapeOut)-len(shapeB):]):
		// b repeats over the leading dimensions of a, e.g. a bias row.
		w := len(y)
		for i := range z {
			z[i] = fn(x[i], y[i%w])
		}
		return nil
	}

	ndim := len(shapeOut)
	sa, sb := broadcastStrides(shapeA, ndim), broadcastStrides(shapeB, ndim)
	pos := make([]int, ndim)
	ia, ib := 0, 0
	for i := range z {
		z[i] = fn(x[ia], y[ib])
		for d := ndim - 1; d >= 0; d-- {
			pos[d]++
			ia += sa[d]
			ib += sb[d]
			if pos[d] < shapeOut[d] {
				break
			}
			ia -= pos[d] * sa[d]
			ib -= pos[d] * sb[d]
			pos[d] = 0
		}
	}
	return nil
}

// broadcastStrides returns element strides for shape right-aligned to ndim
// dimensions, with 0 for broadcast dimensions.
func broadcastStrides(shape core.Shape, ndim int) []int {
	strides := make([]int, ndim)
	stride := 1
	for d := len(shape) - 1; d >= 0; d-- {
		out := d + ndim - len(shape)
		if shape[d] != 1 {
			strides[out] = stride
		}
		stride *= shape[d]
	}
	return strides
}
