package cuda

import (
	"fmt"
	"unsafe"
)

// DevicePtr is an address in device memory.
type DevicePtr uintptr

// Alloc reserves n bytes of linear device memory.
func Alloc(n uint64) (DevicePtr, error) {
	if err := Init(); err != nil {
		return 0, err
	}
	var ptr uintptr
	if err := check(cuMemAlloc(&ptr, n), "cuMemAlloc"); err != nil {
		return 0, err
	}
	return DevicePtr(ptr), nil
}

// Free releases device memory.
func Free(ptr DevicePtr) error {
	return check(cuMemFree(uintptr(ptr)), "cuMemFree")
}

// CopyToDevice copies a host slice into device memory.
func CopyToDevice[T any](dst DevicePtr, src []T) error {
	if len(src) == 0 {
		return nil
	}
	n := uint64(len(src)) * uint64(unsafe.Sizeof(src[0]))
	return check(cuMemcpyHtoD(uintptr(dst), unsafe.Pointer(&src[0]), n), "cuMemcpyHtoD")
}

// CopyFromDevice copies device memory into a host slice.
func CopyFromDevice[T any](dst []T, src DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	n := uint64(len(dst)) * uint64(unsafe.Sizeof(dst[0]))
	return check(cuMemcpyDtoH(unsafe.Pointer(&dst[0]), uintptr(src), n), "cuMemcpyDtoH")
}

// Memset fills n bytes of device memory with a byte value.
func Memset(dst DevicePtr, value byte, n uint64) error {
	return check(cuMemsetD8(uintptr(dst), value, n), "cuMemsetD8")
}

// Buffer is a typed owning wrapper over a device allocation, the helper the
// example programs use to stage inputs and read back results.
type Buffer[T any] struct {
	ptr DevicePtr
	n   int
}

// NewBuffer allocates room for n elements.
func NewBuffer[T any](n int) (*Buffer[T], error) {
	var zero T
	ptr, err := Alloc(uint64(n) * uint64(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return &Buffer[T]{ptr: ptr, n: n}, nil
}

// NewBufferFrom allocates and uploads a host slice.
func NewBufferFrom[T any](values []T) (*Buffer[T], error) {
	b, err := NewBuffer[T](len(values))
	if err != nil {
		return nil, err
	}
	if err := b.CopyFrom(values); err != nil {
		_ = b.Free()
		return nil, err
	}
	return b, nil
}

func (b *Buffer[T]) Ptr() DevicePtr { return b.ptr }
func (b *Buffer[T]) Len() int       { return b.n }

func (b *Buffer[T]) CopyFrom(values []T) error {
	if len(values) != b.n {
		return fmt.Errorf("buffer size mismatch: %d != %d", len(values), b.n)
	}
	return CopyToDevice(b.ptr, values)
}

// ToSlice downloads the buffer contents into a fresh host slice.
func (b *Buffer[T]) ToSlice() ([]T, error) {
	out := make([]T, b.n)
	if err := CopyFromDevice(out, b.ptr); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Buffer[T]) Free() error {
	if b.ptr == 0 {
		return nil
	}
	err := Free(b.ptr)
	b.ptr = 0
	b.n = 0
	return err
}
