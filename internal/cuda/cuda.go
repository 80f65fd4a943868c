// Package cuda binds the CUDA driver API via purego. No cgo is required;
// libcuda is loaded with dlopen at first use, so binaries build and link on
// machines without the NVIDIA driver installed.
//
// Only the surface consumed by the tuning engine is bound: device and
// context management, module loading and kernel launch, streams, events,
// and linear device memory.
package cuda

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Result is a CUresult error code.
type Result int32

const (
	Success             Result = 0
	ErrInvalidValue     Result = 1
	ErrOutOfMemory      Result = 2
	ErrNotInitialized   Result = 3
	ErrNoDevice         Result = 100
	ErrInvalidContext   Result = 201
	ErrInvalidHandle    Result = 400
	ErrNotFound         Result = 500
	ErrNotReady         Result = 600
	ErrLaunchFailed     Result = 719
)

func (r Result) Error() string {
	names := map[Result]string{
		ErrInvalidValue:   "INVALID_VALUE",
		ErrOutOfMemory:    "OUT_OF_MEMORY",
		ErrNotInitialized: "NOT_INITIALIZED",
		ErrNoDevice:       "NO_DEVICE",
		ErrInvalidContext: "INVALID_CONTEXT",
		ErrInvalidHandle:  "INVALID_HANDLE",
		ErrNotFound:       "NOT_FOUND",
		ErrNotReady:       "NOT_READY",
		ErrLaunchFailed:   "LAUNCH_FAILED",
	}
	if name, ok := names[r]; ok {
		return fmt.Sprintf("CUDA_ERROR_%s (%d)", name, int32(r))
	}
	return fmt.Sprintf("CUDA_ERROR(%d)", int32(r))
}

func check(r Result, op string) error {
	if r == Success {
		return nil
	}
	return fmt.Errorf("%s: %w", op, r)
}

// Device attribute codes.
const (
	AttrMaxThreadsPerBlock      = 1
	AttrMaxSharedMemoryPerBlock = 8
	AttrWarpSize                = 10
	AttrMultiprocessorCount     = 16
	AttrComputeCapabilityMajor  = 75
	AttrComputeCapabilityMinor  = 76
)

var (
	driverOnce sync.Once
	driverErr  error

	cuInit             func(flags uint32) Result
	cuDriverGetVersion func(version *int32) Result

	cuDeviceGet          func(device *int32, ordinal int32) Result
	cuDeviceGetCount     func(count *int32) Result
	cuDeviceGetName      func(name *byte, length int32, dev int32) Result
	cuDeviceGetAttribute func(pi *int32, attrib int32, dev int32) Result

	cuDevicePrimaryCtxRetain func(pctx *uintptr, dev int32) Result
	cuCtxGetCurrent          func(pctx *uintptr) Result
	cuCtxSetCurrent          func(ctx uintptr) Result
	cuCtxGetDevice           func(device *int32) Result

	cuModuleLoadData    func(module *uintptr, image unsafe.Pointer) Result
	cuModuleGetFunction func(hfunc *uintptr, hmod uintptr, name *byte) Result
	cuModuleUnload      func(hmod uintptr) Result
	cuLaunchKernel      func(
		f uintptr,
		gridDimX, gridDimY, gridDimZ uint32,
		blockDimX, blockDimY, blockDimZ uint32,
		sharedMemBytes uint32,
		hStream uintptr,
		kernelParams unsafe.Pointer,
		extra unsafe.Pointer,
	) Result

	cuStreamCreate      func(phStream *uintptr, flags uint32) Result
	cuStreamSynchronize func(hStream uintptr) Result
	cuStreamDestroy     func(hStream uintptr) Result

	cuEventCreate      func(phEvent *uintptr, flags uint32) Result
	cuEventRecord      func(hEvent uintptr, hStream uintptr) Result
	cuEventSynchronize func(hEvent uintptr) Result
	cuEventElapsedTime func(millis *float32, start uintptr, end uintptr) Result
	cuEventDestroy     func(hEvent uintptr) Result

	cuMemAlloc   func(dptr *uintptr, bytesize uint64) Result
	cuMemFree    func(dptr uintptr) Result
	cuMemcpyHtoD func(dstDevice uintptr, srcHost unsafe.Pointer, byteCount uint64) Result
	cuMemcpyDtoH func(dstHost unsafe.Pointer, srcDevice uintptr, byteCount uint64) Result
	cuMemcpyDtoD func(dstDevice uintptr, srcDevice uintptr, byteCount uint64) Result
	cuMemsetD8   func(dstDevice uintptr, uc byte, n uint64) Result
)

// Init loads libcuda, registers the bound functions, and calls cuInit. It is
// safe to call from multiple goroutines; only the first call does work.
func Init() error {
	driverOnce.Do(func() {
		var lib uintptr
		lib, driverErr = purego.Dlopen("libcuda.so.1", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
		if driverErr != nil {
			lib, driverErr = purego.Dlopen("libcuda.so", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if driverErr != nil {
				driverErr = fmt.Errorf("cannot load libcuda.so: %w (is the NVIDIA driver installed?)", driverErr)
				return
			}
		}

		purego.RegisterLibFunc(&cuInit, lib, "cuInit")
		purego.RegisterLibFunc(&cuDriverGetVersion, lib, "cuDriverGetVersion")
		purego.RegisterLibFunc(&cuDeviceGet, lib, "cuDeviceGet")
		purego.RegisterLibFunc(&cuDeviceGetCount, lib, "cuDeviceGetCount")
		purego.RegisterLibFunc(&cuDeviceGetName, lib, "cuDeviceGetName")
		purego.RegisterLibFunc(&cuDeviceGetAttribute, lib, "cuDeviceGetAttribute")
		purego.RegisterLibFunc(&cuDevicePrimaryCtxRetain, lib, "cuDevicePrimaryCtxRetain")
		purego.RegisterLibFunc(&cuCtxGetCurrent, lib, "cuCtxGetCurrent")
		purego.RegisterLibFunc(&cuCtxSetCurrent, lib, "cuCtxSetCurrent")
		purego.RegisterLibFunc(&cuCtxGetDevice, lib, "cuCtxGetDevice")
		purego.RegisterLibFunc(&cuModuleLoadData, lib, "cuModuleLoadData")
		purego.RegisterLibFunc(&cuModuleGetFunction, lib, "cuModuleGetFunction")
		purego.RegisterLibFunc(&cuModuleUnload, lib, "cuModuleUnload")
		purego.RegisterLibFunc(&cuLaunchKernel, lib, "cuLaunchKernel")
		purego.RegisterLibFunc(&cuStreamCreate, lib, "cuStreamCreate")
		purego.RegisterLibFunc(&cuStreamSynchronize, lib, "cuStreamSynchronize")
		purego.RegisterLibFunc(&cuStreamDestroy, lib, "cuStreamDestroy_v2")
		purego.RegisterLibFunc(&cuEventCreate, lib, "cuEventCreate")
		purego.RegisterLibFunc(&cuEventRecord, lib, "cuEventRecord")
		purego.RegisterLibFunc(&cuEventSynchronize, lib, "cuEventSynchronize")
		purego.RegisterLibFunc(&cuEventElapsedTime, lib, "cuEventElapsedTime")
		purego.RegisterLibFunc(&cuEventDestroy, lib, "cuEventDestroy_v2")
		purego.RegisterLibFunc(&cuMemAlloc, lib, "cuMemAlloc_v2")
		purego.RegisterLibFunc(&cuMemFree, lib, "cuMemFree_v2")
		purego.RegisterLibFunc(&cuMemcpyHtoD, lib, "cuMemcpyHtoD_v2")
		purego.RegisterLibFunc(&cuMemcpyDtoH, lib, "cuMemcpyDtoH_v2")
		purego.RegisterLibFunc(&cuMemcpyDtoD, lib, "cuMemcpyDtoD_v2")
		purego.RegisterLibFunc(&cuMemsetD8, lib, "cuMemsetD8_v2")

		driverErr = check(cuInit(0), "cuInit")
	})
	return driverErr
}

// DriverVersion returns the installed driver version, e.g. 12040.
func DriverVersion() (int, error) {
	if err := Init(); err != nil {
		return 0, err
	}
	var v int32
	if err := check(cuDriverGetVersion(&v), "cuDriverGetVersion"); err != nil {
		return 0, err
	}
	return int(v), nil
}

func cstring(s string) *byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}
