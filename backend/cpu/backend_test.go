package cpu

import (
	"errors"
	"math"
	"testing"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/core"
)

func storageOf(data []float32) backend.Storage {
	s := newStorage(len(data) * 4)
	copy(f32Slice(s, len(data)), data)
	return s
}

func TestMatMulMatchesNaive(t *testing.T) {
	const M, K, N = 70, 33, 41
	a := make([]float32, M*K)
	b := make([]float32, K*N)
	for i := range a {
		a[i] = float32(i%7) - 3
	}
	for i := range b {
		b[i] = float32(i%5) * 0.5
	}

	be := &Backend{}
	dst := newStorage(M * N * 4)
	if err := be.MatMul(dst, storageOf(a), storageOf(b), core.Shape{M, K}, core.Shape{K, N}, core.Float32); err != nil {
		t.Fatal(err)
	}
	got := f32Slice(dst, M*N)

	for i := 0; i < M; i++ {
		for j := 0; j < N; j++ {
			want := float32(0)
			for k := 0; k < K; k++ {
				want += a[i*K+k] * b[k*N+j]
			}
			if math.Abs(float64(got[i*N+j]-want)) > 1e-3 {
				t.Fatalf("c[%d,%d] = %f, want %f", i, j, got[i*N+j], want)
			}
		}
	}
}

func TestMatMulTransB(t *testing.T) {
	a := []float32{1, 2, 3, 4}       // [2,2]
	w := []float32{1, 0, 0, 1, 1, 1} // [3,2]
	be := &Backend{}
	dst := newStorage(6 * 4)
	if err := be.MatMulTransB(dst, storageOf(a), storageOf(w), 2, 2, 3, core.Float32); err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 2, 3, 3, 4, 7}
	got := f32Slice(dst, 6)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("c[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestAddBroadcast(t *testing.T) {
	be := &Backend{}
	dst := newStorage(6 * 4)
	err := be.Add(dst, storageOf([]float32{1, 2, 3, 4, 5, 6}), storageOf([]float32{10, 20, 30}),
		core.Shape{2, 3}, core.Shape{3}, core.Shape{2, 3}, core.Float32)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{11, 22, 33, 14, 25, 36}
	got := f32Slice(dst, 6)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("out[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestGeluExact(t *testing.T) {
	if g := GeluScalar(0); g != 0 {
		t.Errorf("gelu(0) = %f", g)
	}
	if g := GeluScalar(1); math.Abs(float64(g)-0.8413447) > 1e-5 {
		t.Errorf("gelu(1) = %f, want 0.8413447", g)
	}
	// finite difference check of the derivative
	for _, x := range []float32{-2, -0.5, 0.3, 1.7} {
		h := float32(1e-3)
		num := (GeluScalar(x+h) - GeluScalar(x-h)) / (2 * h)
		if math.Abs(float64(num-GeluGradScalar(x))) > 1e-2 {
			t.Errorf("gelu'(%f) = %f, numeric %f", x, GeluGradScalar(x), num)
		}
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	be := &Backend{}
	dst := newStorage(6 * 4)
	if err := be.Softmax(dst, storageOf([]float32{1, 2, 3, -1e9, 0, 0}), core.Shape{2, 3}, -1, core.Float32); err != nil {
		t.Fatal(err)
	}
	got := f32Slice(dst, 6)
	for r := 0; r < 2; r++ {
		sum := got[r*3] + got[r*3+1] + got[r*3+2]
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Errorf("row %d sums to %f", r, sum)
		}
	}
	if got[3] != 0 {
		t.Errorf("masked position should be 0, got %g", got[3])
	}
}

func TestAddBroadcastShapes(t *testing.T) {
	be := &Backend{}
	cases := []struct {
		a, b   []float32
		sa, sb core.Shape
		out    core.Shape
		want   []float32
	}{
		{[]float32{1, 2, 3, 4, 5, 6}, []float32{10, 20, 30}, core.Shape{2, 3}, core.Shape{3}, core.Shape{2, 3}, []float32{11, 22, 33, 14, 25, 36}},
		{[]float32{1, 2, 3, 4, 5, 6}, []float32{10, 20}, core.Shape{2, 3}, core.Shape{2, 1}, core.Shape{2, 3}, []float32{11, 12, 13, 24, 25, 26}},
		{[]float32{1, 2}, []float32{10, 20, 30}, core.Shape{2, 1}, core.Shape{1, 3}, core.Shape{2, 3}, []float32{11, 21, 31, 12, 22, 32}},
	}
	for i, c := range cases {
		dst := newStorage(c.out.NumElements() * 4)
		if err := be.Add(dst, storageOf(c.a), storageOf(c.b), c.sa, c.sb, c.out, core.Float32); err != nil {
			t.Fatal(err)
		}
		got := f32Slice(dst, c.out.NumElements())
		for j := range c.want {
			if got[j] != c.want[j] {
				t.Errorf("case %d: got %v, want %v", i, got, c.want)
				break
			}
		}
	}
}

func TestSoftmaxLeadingAxis(t *testing.T) {
	be := &Backend{}
	dst := newStorage(4 * 4)
	// columns of [[0, 1], [0, 1]] normalise to 0.5 each
	if err := be.Softmax(dst, storageOf([]float32{0, 1, 0, 1}), core.Shape{2, 2}, 0, core.Float32); err != nil {
		t.Fatal(err)
	}
	for i, v := range f32Slice(dst, 4) {
		if math.Abs(float64(v)-0.5) > 1e-6 {
			t.Errorf("p[%d] = %f, want 0.5", i, v)
		}
	}
}

func TestLayerNormRows(t *testing.T) {
	be := &Backend{}
	dst := newStorage(6 * 4)
	src := storageOf([]float32{1, 2, 3, -4, 0, 4})
	if err := be.LayerNorm(dst, src, nil, nil, core.Shape{2, 3}, 1, 0, core.Float32); err != nil {
		t.Fatal(err)
	}
	got := f32Slice(dst, 6)
	for r := 0; r < 2; r++ {
		row := got[r*3 : r*3+3]
		if math.Abs(float64(row[0]+row[1]+row[2])) > 1e-5 || row[1] != 0 {
			t.Errorf("row %d not centred: %v", r, row)
		}
		if math.Abs(float64(row[2])-math.Sqrt(1.5)) > 1e-5 {
			t.Errorf("row %d not unit variance: %v", r, row)
		}
	}
}

func TestResolve(t *testing.T) {
	for _, name := range []string{"", "auto", "CPU", " cpu "} {
		d, err := backend.Resolve(name)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", name, err)
		}
		if d != backend.CPU0 {
			t.Errorf("Resolve(%q) = %v, want cpu", name, d)
		}
	}
	for _, name := range []string{"cuda", "cuda:1", "cuda:x", "tpu"} {
		if _, err := backend.Resolve(name); err == nil {
			t.Errorf("Resolve(%q) succeeded without a backend", name)
		}
	}
}

func TestParallelRowsRecoversPanic(t *testing.T) {
	for _, rows := range []int{4, 64 * minRowsPerWorker} {
		err := parallelRows(rows, func(lo, hi int) {
			if hi == rows {
				var s []float32
				_ = s[hi]
			}
		})
		var kp *backend.KernelPanicError
		if !errors.As(err, &kp) {
			t.Fatalf("rows=%d: err = %v, want *backend.KernelPanicError", rows, err)
		}
		if len(kp.Stack) == 0 {
			t.Errorf("rows=%d: no stack captured", rows)
		}
	}
	if err := parallelRows(64, func(lo, hi int) {}); err != nil {
		t.Errorf("clean run: %v", err)
	}
}
