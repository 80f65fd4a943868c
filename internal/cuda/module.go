package cuda

import (
	"fmt"
	"runtime"
	"unsafe"
)

// Module is a loaded GPU module together with one resolved kernel function.
type Module struct {
	module   uintptr
	function uintptr
}

// LoadModule loads a compiled image (PTX or cubin) and resolves the lowered
// symbol.
func LoadModule(image []byte, symbol string) (*Module, error) {
	if err := Init(); err != nil {
		return nil, err
	}

	// The driver expects a NUL-terminated image for PTX text.
	img := make([]byte, len(image)+1)
	copy(img, image)

	var mod uintptr
	if err := check(cuModuleLoadData(&mod, unsafe.Pointer(&img[0])), "cuModuleLoadData"); err != nil {
		return nil, err
	}

	var fn uintptr
	if err := check(cuModuleGetFunction(&fn, mod, cstring(symbol)), "cuModuleGetFunction"); err != nil {
		_ = check(cuModuleUnload(mod), "cuModuleUnload")
		return nil, fmt.Errorf("symbol %q: %w", symbol, err)
	}
	return &Module{module: mod, function: fn}, nil
}

// Launch runs the kernel. Args are scalar values or device pointers; each is
// copied into an 8-byte slot and passed to the driver by address.
func (m *Module) Launch(
	gridX, gridY, gridZ uint32,
	blockX, blockY, blockZ uint32,
	sharedMem uint32,
	stream uintptr,
	args []any,
) error {
	slots := make([]uint64, len(args))
	ptrs := make([]unsafe.Pointer, len(args))
	for i, a := range args {
		slot, err := argSlot(a)
		if err != nil {
			return err
		}
		slots[i] = slot
		ptrs[i] = unsafe.Pointer(&slots[i])
	}

	var params unsafe.Pointer
	if len(ptrs) > 0 {
		params = unsafe.Pointer(&ptrs[0])
	}

	err := check(cuLaunchKernel(
		m.function,
		gridX, gridY, gridZ,
		blockX, blockY, blockZ,
		sharedMem,
		stream,
		params,
		nil,
	), "cuLaunchKernel")
	runtime.KeepAlive(slots)
	runtime.KeepAlive(ptrs)
	return err
}

// argSlot stores an argument in a little-endian 8-byte slot; the kernel
// reads only the bytes its parameter type needs.
func argSlot(a any) (uint64, error) {
	switch v := a.(type) {
	case DevicePtr:
		return uint64(v), nil
	case uintptr:
		return uint64(v), nil
	case int32:
		return uint64(uint32(v)), nil
	case uint32:
		return uint64(v), nil
	case int64:
		return uint64(v), nil
	case uint64:
		return v, nil
	case int:
		return uint64(uint32(int32(v))), nil
	case float32:
		return uint64(floatBits32(v)), nil
	case float64:
		return floatBits64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported kernel argument type %T", a)
	}
}

// Unload releases the module.
func (m *Module) Unload() error {
	if m.module == 0 {
		return nil
	}
	err := check(cuModuleUnload(m.module), "cuModuleUnload")
	m.module = 0
	m.function = 0
	return err
}
