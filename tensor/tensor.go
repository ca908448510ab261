package tensor

import (
	"fmt"

	"github.com/djeday123/reviewtune/backend"
	_ "github.com/djeday123/reviewtune/backend/cpu" // CPU backend is always available
)

// Tensor is a dense row-major array on one device. Parameters also carry
// the gradient accumulated by the layers' Backward methods.
type Tensor struct {
	storage backend.Storage
	shape   Shape
	dtype   DType

	requiresGrad bool
	grad         *Tensor
}

// NewTensor wraps storage; the shape is copied.
func NewTensor(storage backend.Storage, shape Shape, dtype DType) *Tensor {
	return &Tensor{storage: storage, shape: shape.Clone(), dtype: dtype}
}

// alloc reserves room for shape elements of dtype on device.
func alloc(shape Shape, dtype DType, device backend.Device) (backend.Backend, backend.Storage, error) {
	b, err := backend.GetForDevice(device)
	if err != nil {
		return nil, nil, err
	}
	store, err := b.Alloc(shape.NumElements() * int(dtype.Size()))
	if err != nil {
		return nil, nil, err
	}
	return b, store, nil
}

func dtypeOf[T element]() DType {
	switch any(*new(T)).(type) {
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	}
	return Float32
}

// FromSlice copies data into a new CPU tensor.
func FromSlice[T element](data []T, shape Shape) (*Tensor, error) {
	if n := shape.NumElements(); len(data) != n {
		return nil, fmt.Errorf("data length %d != shape elements %d", len(data), n)
	}
	return FromBytes(asBytes(data), shape, dtypeOf[T](), backend.CPU0)
}

// MustFromSlice is FromSlice for shapes known to match, such as buffers
// sized from the shape itself. It panics on error.
func MustFromSlice[T element](data []T, shape Shape) *Tensor {
	t, err := FromSlice(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// FromBytes copies raw little-endian element bytes into a tensor on device.
func FromBytes(data []byte, shape Shape, dtype DType, device backend.Device) (*Tensor, error) {
	if want := shape.NumElements() * int(dtype.Size()); len(data) != want {
		return nil, fmt.Errorf("byte length %d != %d for shape %v %s", len(data), want, shape, dtype)
	}
	_, store, err := alloc(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	copy(store.Bytes(), data)
	return NewTensor(store, shape, dtype), nil
}

// Full returns a tensor with every element set to value.
func Full(shape Shape, value float64, dtype DType, device backend.Device) (*Tensor, error) {
	b, store, err := alloc(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	if err := b.Fill(store, shape, value, dtype); err != nil {
		store.Free()
		return nil, err
	}
	return NewTensor(store, shape, dtype), nil
}

// Zeros is Full with 0.
func Zeros(shape Shape, dtype DType, device backend.Device) (*Tensor, error) {
	return Full(shape, 0, dtype, device)
}

// ---- Accessors ----

func (t *Tensor) Shape() Shape             { return t.shape }
func (t *Tensor) DType() DType             { return t.dtype }
func (t *Tensor) NDim() int                { return len(t.shape) }
func (t *Tensor) NumElements() int         { return t.shape.NumElements() }
func (t *Tensor) Device() backend.Device   { return t.storage.Device() }
func (t *Tensor) Storage() backend.Storage { return t.storage }
func (t *Tensor) RequiresGrad() bool       { return t.requiresGrad }
func (t *Tensor) Grad() *Tensor            { return t.grad }
func (t *Tensor) SetGrad(grad *Tensor)     { t.grad = grad }

func (t *Tensor) SetRequiresGrad(v bool) *Tensor {
	t.requiresGrad = v
	return t
}

// ZeroGrad drops the accumulated gradient.
func (t *Tensor) ZeroGrad() { t.grad = nil }

// ---- Views ----

// View reshapes t without copying; the result shares storage.
func (t *Tensor) View(newShape Shape) (*Tensor, error) {
	if newShape.NumElements() != t.NumElements() {
		return nil, fmt.Errorf("view shape %v has %d elements, need %d",
			newShape, newShape.NumElements(), t.NumElements())
	}
	return &Tensor{
		storage:      t.storage,
		shape:        newShape.Clone(),
		dtype:        t.dtype,
		requiresGrad: t.requiresGrad,
	}, nil
}

// Clone deep-copies the data. The gradient is not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	b, store, err := alloc(t.shape, t.dtype, t.Device())
	if err != nil {
		return nil, err
	}
	if err := b.Copy(store, t.storage, store.ByteLen()); err != nil {
		return nil, err
	}
	c := NewTensor(store, t.shape, t.dtype)
	c.requiresGrad = t.requiresGrad
	return c, nil
}

// CopyFrom overwrites t's data with src's. Shapes and dtypes must match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) || t.dtype != src.dtype {
		return fmt.Errorf("copy: %v %s into %v %s", src.shape, src.dtype, t.shape, t.dtype)
	}
	b, err := backend.GetForDevice(t.Device())
	if err != nil {
		return err
	}
	return b.Copy(t.storage, src.storage, t.NumElements()*int(t.dtype.Size()))
}

// Free releases the storage and the gradient's.
func (t *Tensor) Free() {
	if t.storage != nil {
		t.storage.Free()
		t.storage = nil
	}
	if t.grad != nil {
		t.grad.Free()
		t.grad = nil
	}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, grad=%v)",
		t.shape, t.dtype, t.Device(), t.requiresGrad)
}
