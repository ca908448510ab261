package tensor

import (
	"testing"

	"github.com/djeday123/reviewtune/backend"
)

func TestFromSlice(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if x.DType() != Float32 {
		t.Errorf("dtype = %s", x.DType())
	}
	if got := x.ToFloat32Slice()[4]; got != 5 {
		t.Errorf("x[4] = %f", got)
	}

	ids, err := FromSlice([]int64{}, Shape{0})
	if err != nil {
		t.Fatalf("empty slice: %v", err)
	}
	if ids.DType() != Int64 || ids.NumElements() != 0 {
		t.Errorf("empty tensor = %v", ids)
	}

	if _, err := FromSlice([]float32{1, 2}, Shape{3}); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	x := MustFromSlice([]float32{1, 2, 3}, Shape{3})
	c, err := x.Clone()
	if err != nil {
		t.Fatal(err)
	}
	c.ToFloat32Slice()[0] = 42
	if x.ToFloat32Slice()[0] != 1 {
		t.Error("clone shares storage with source")
	}

	if err := x.CopyFrom(c); err != nil {
		t.Fatal(err)
	}
	if x.ToFloat32Slice()[0] != 42 {
		t.Error("CopyFrom did not copy")
	}
}

func TestViewSharesStorage(t *testing.T) {
	x, _ := Zeros(Shape{2, 3}, Float32, backend.CPU0)
	v, err := x.View(Shape{6})
	if err != nil {
		t.Fatal(err)
	}
	v.ToFloat32Slice()[5] = 7
	if x.ToFloat32Slice()[5] != 7 {
		t.Error("view does not alias storage")
	}
	if _, err := x.View(Shape{4}); err == nil {
		t.Error("expected element-count mismatch")
	}
}

func TestFromBytes(t *testing.T) {
	src := MustFromSlice([]float32{0.5, -1}, Shape{2})
	dst, err := FromBytes(src.Bytes(), Shape{2}, Float32, backend.CPU0)
	if err != nil {
		t.Fatal(err)
	}
	if dst.ToFloat32Slice()[1] != -1 {
		t.Errorf("got %v", dst.ToFloat32Slice())
	}
	if _, err := FromBytes([]byte{1, 2, 3}, Shape{1}, Float32, backend.CPU0); err == nil {
		t.Error("expected short buffer error")
	}
}
