package core

import "fmt"

// DType is a tensor element type.
type DType uint8

const (
	Float32 DType = iota
	Float64
	Int32
	Int64
)

var dtypes = [...]struct {
	name string
	size uintptr
}{
	Float32: {"float32", 4},
	Float64: {"float64", 8},
	Int32:   {"int32", 4},
	Int64:   {"int64", 8},
}

// Size is the width of one element in bytes. It panics for unknown types.
func (d DType) Size() uintptr {
	if int(d) >= len(dtypes) {
		panic(fmt.Sprintf("unknown dtype %d", d))
	}
	return dtypes[d].size
}

func (d DType) String() string {
	if int(d) >= len(dtypes) {
		return fmt.Sprintf("dtype(%d)", d)
	}
	return dtypes[d].name
}
