package tensor

import "unsafe"

type element interface {
	float32 | float64 | int32 | int64
}

// asBytes views data as its raw bytes without copying.
func asBytes[T element](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(data[0])))
}

// view reinterprets the first n elements of b as []T.
func view[T element](b []byte, n int) []T {
	if n == 0 || len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

// ToFloat32Slice aliases the storage of a float32 tensor.
func (t *Tensor) ToFloat32Slice() []float32 { return view[float32](t.storage.Bytes(), t.NumElements()) }

// ToInt64Slice aliases the storage of an int64 tensor.
func (t *Tensor) ToInt64Slice() []int64 { return view[int64](t.storage.Bytes(), t.NumElements()) }

// Bytes returns the little-endian element bytes, aliasing the storage.
func (t *Tensor) Bytes() []byte {
	return t.storage.Bytes()[:t.NumElements()*int(t.dtype.Size())]
}
