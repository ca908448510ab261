package backend

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/djeday123/reviewtune/core"
)

// DeviceType represents the compute device.
type DeviceType uint8

const (
	CPU DeviceType = iota
	CUDA
)

func (d DeviceType) String() string {
	names := [...]string{"cpu", "cuda"}
	if int(d) < len(names) {
		return names[d]
	}
	return fmt.Sprintf("device(%d)", d)
}

// Device identifies a specific device (type + index).
type Device struct {
	Type  DeviceType
	Index int // GPU index, 0 for CPU
}

var CPU0 = Device{Type: CPU, Index: 0}

func CUDADevice(index int) Device { return Device{Type: CUDA, Index: index} }

func (d Device) String() string {
	if d.Type == CPU {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Type, d.Index)
}

// Storage is a raw buffer owned by one device.
type Storage interface {
	Device() Device
	Bytes() []byte // host view; nil for device memory
	ByteLen() int
	Free()
}

// Backend is the kernel set a device provides. Kernels write into dst,
// which the caller allocates with the right size; shapes describe the
// row-major operands.
type Backend interface {
	Name() string
	DeviceType() DeviceType

	Alloc(byteLen int) (Storage, error)
	Copy(dst, src Storage, byteLen int) error
	Fill(dst Storage, shape core.Shape, value float64, dtype core.DType) error

	Tanh(dst, src Storage, shape core.Shape, dtype core.DType) error
	Gelu(dst, src Storage, shape core.Shape, dtype core.DType) error

	// Add broadcasts a and b to shapeOut.
	Add(dst, a, b Storage, shapeA, shapeB, shapeOut core.Shape, dtype core.DType) error

	// MatMul is [..., M, K] @ [..., K, N] or [..., M, K] @ [K, N].
	MatMul(dst, a, b Storage, shapeA, shapeB core.Shape, dtype core.DType) error
	// MatMulTransB is [M, K] @ [N, K]^T, the layout of [out, in] weights.
	MatMulTransB(dst, a, b Storage, m, k, n int, dtype core.DType) error

	Softmax(dst, src Storage, shape core.Shape, axis int, dtype core.DType) error
	// LayerNorm normalises the block of dimensions from normAxis on.
	LayerNorm(dst, src, gamma, beta Storage, shape core.Shape, normAxis int, eps float64, dtype core.DType) error

	// Embedding gathers rows of a [vocabSize, embedDim] table for seqLen
	// int64 indices.
	Embedding(dst, weight, indices Storage, vocabSize, embedDim, seqLen int, dtype core.DType) error
}

// KernelPanicError carries a panic recovered on a kernel worker goroutine,
// where the caller's recover cannot reach it.
type KernelPanicError struct {
	Value any
	Stack []byte
}

func (e *KernelPanicError) Error() string {
	return fmt.Sprintf("kernel panic: %v", e.Value)
}

var (
	mu       sync.RWMutex
	backends = map[DeviceType]Backend{}
)

// Register makes b available for its device type. Backends register
// themselves from init.
func Register(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	backends[b.DeviceType()] = b
}

// Get returns the backend registered for dt.
func Get(dt DeviceType) (Backend, error) {
	mu.RLock()
	b, ok := backends[dt]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no %s backend registered", dt)
	}
	return b, nil
}

// GetForDevice returns the backend for a specific device.
func GetForDevice(d Device) (Backend, error) {
	return Get(d.Type)
}

// Resolve maps a device name to a registered device. Accepted names are
// "auto", "cpu", "cuda" and "cuda:N". "auto" prefers CUDA and falls back to
// the CPU when no accelerator backend is registered; an explicit accelerator
// that is not registered is an error.
func Resolve(name string) (Device, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch {
	case name == "" || name == "auto":
		if _, err := Get(CUDA); err == nil {
			return CUDADevice(0), nil
		}
		if _, err := Get(CPU); err != nil {
			return Device{}, err
		}
		return CPU0, nil
	case name == "cpu":
		if _, err := Get(CPU); err != nil {
			return Device{}, err
		}
		return CPU0, nil
	case name == "cuda" || strings.HasPrefix(name, "cuda:"):
		idx := 0
		if rest, ok := strings.CutPrefix(name, "cuda:"); ok {
			n, err := strconv.Atoi(rest)
			if err != nil || n < 0 {
				return Device{}, fmt.Errorf("invalid device %q", name)
			}
			idx = n
		}
		if _, err := Get(CUDA); err != nil {
			return Device{}, fmt.Errorf("device %q: %w", name, err)
		}
		return CUDADevice(idx), nil
	default:
		return Device{}, fmt.Errorf("unknown device %q", name)
	}
}
