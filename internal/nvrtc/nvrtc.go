// Package nvrtc binds the NVRTC runtime-compilation library via purego,
// exposing the single entry point the tuning engine needs: compile a CUDA
// source into PTX and report the lowered name of one kernel instantiation.
package nvrtc

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Result is an nvrtcResult error code.
type Result int32

const (
	Success Result = 0
)

var resultNames = map[Result]string{
	1: "NVRTC_ERROR_OUT_OF_MEMORY",
	2: "NVRTC_ERROR_PROGRAM_CREATION_FAILURE",
	3: "NVRTC_ERROR_INVALID_INPUT",
	4: "NVRTC_ERROR_INVALID_PROGRAM",
	5: "NVRTC_ERROR_INVALID_OPTION",
	6: "NVRTC_ERROR_COMPILATION",
	7: "NVRTC_ERROR_BUILTIN_OPERATION_FAILURE",
}

func (r Result) Error() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("NVRTC_ERROR(%d)", int32(r))
}

// CompilationError carries the compiler log of a failed compilation.
type CompilationError struct {
	Result Result
	Log    string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Result.Error(), strings.TrimSpace(e.Log))
}

var (
	libOnce sync.Once
	libErr  error

	nvrtcCreateProgram func(
		prog *uintptr,
		src *byte,
		name *byte,
		numHeaders int32,
		headers unsafe.Pointer,
		includeNames unsafe.Pointer,
	) Result
	nvrtcDestroyProgram    func(prog *uintptr) Result
	nvrtcAddNameExpression func(prog uintptr, nameExpr *byte) Result
	nvrtcCompileProgram    func(prog uintptr, numOptions int32, options unsafe.Pointer) Result
	nvrtcGetProgramLogSize func(prog uintptr, size *uint64) Result
	nvrtcGetProgramLog     func(prog uintptr, log *byte) Result
	nvrtcGetLoweredName    func(prog uintptr, nameExpr *byte, loweredName *uintptr) Result
	nvrtcGetPTXSize        func(prog uintptr, size *uint64) Result
	nvrtcGetPTX            func(prog uintptr, ptx *byte) Result
	nvrtcVersion           func(major, minor *int32) Result
)

func load() error {
	libOnce.Do(func() {
		var lib uintptr
		for _, name := range []string{"libnvrtc.so.12", "libnvrtc.so.11.2", "libnvrtc.so"} {
			lib, libErr = purego.Dlopen(name, purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if libErr == nil {
				break
			}
		}
		if libErr != nil {
			libErr = fmt.Errorf("cannot load libnvrtc.so: %w (is the CUDA toolkit installed?)", libErr)
			return
		}

		purego.RegisterLibFunc(&nvrtcCreateProgram, lib, "nvrtcCreateProgram")
		purego.RegisterLibFunc(&nvrtcDestroyProgram, lib, "nvrtcDestroyProgram")
		purego.RegisterLibFunc(&nvrtcAddNameExpression, lib, "nvrtcAddNameExpression")
		purego.RegisterLibFunc(&nvrtcCompileProgram, lib, "nvrtcCompileProgram")
		purego.RegisterLibFunc(&nvrtcGetProgramLogSize, lib, "nvrtcGetProgramLogSize")
		purego.RegisterLibFunc(&nvrtcGetProgramLog, lib, "nvrtcGetProgramLog")
		purego.RegisterLibFunc(&nvrtcGetLoweredName, lib, "nvrtcGetLoweredName")
		purego.RegisterLibFunc(&nvrtcGetPTXSize, lib, "nvrtcGetPTXSize")
		purego.RegisterLibFunc(&nvrtcGetPTX, lib, "nvrtcGetPTX")
		purego.RegisterLibFunc(&nvrtcVersion, lib, "nvrtcVersion")
	})
	return libErr
}

// Version returns the NVRTC (major, minor) version.
func Version() (int, int, error) {
	if err := load(); err != nil {
		return 0, 0, err
	}
	var major, minor int32
	if r := nvrtcVersion(&major, &minor); r != Success {
		return 0, 0, r
	}
	return int(major), int(minor), nil
}

func cstring(s string) *byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}

func gostring(p uintptr) string {
	if p == 0 {
		return ""
	}
	var out []byte
	for {
		c := *(*byte)(unsafe.Pointer(p))
		if c == 0 {
			break
		}
		out = append(out, c)
		p++
	}
	return string(out)
}

// Compile builds the program, registers the name expression, compiles with
// the given options, and returns the lowered symbol plus the PTX image. On a
// compiler diagnostic the returned error is a *CompilationError carrying the
// full log.
func Compile(source, filename, nameExpression string, options []string) (string, []byte, error) {
	if err := load(); err != nil {
		return "", nil, err
	}

	var prog uintptr
	if r := nvrtcCreateProgram(&prog, cstring(source), cstring(filename), 0, nil, nil); r != Success {
		return "", nil, fmt.Errorf("nvrtcCreateProgram: %w", r)
	}
	defer nvrtcDestroyProgram(&prog)

	symbol := cstring(nameExpression)
	if r := nvrtcAddNameExpression(prog, symbol); r != Success {
		return "", nil, fmt.Errorf("nvrtcAddNameExpression: %w", r)
	}

	optPtrs := make([]*byte, len(options))
	for i, opt := range options {
		optPtrs[i] = cstring(opt)
	}
	var optsArg unsafe.Pointer
	if len(optPtrs) > 0 {
		optsArg = unsafe.Pointer(&optPtrs[0])
	}

	if r := nvrtcCompileProgram(prog, int32(len(options)), optsArg); r != Success {
		var size uint64
		log := ""
		if nvrtcGetProgramLogSize(prog, &size) == Success && size > 1 {
			buf := make([]byte, size)
			if nvrtcGetProgramLog(prog, &buf[0]) == Success {
				log = strings.TrimRight(string(buf), "\x00")
			}
		}
		return "", nil, &CompilationError{Result: r, Log: log}
	}

	var loweredPtr uintptr
	if r := nvrtcGetLoweredName(prog, symbol, &loweredPtr); r != Success {
		return "", nil, fmt.Errorf("nvrtcGetLoweredName: %w", r)
	}
	lowered := gostring(loweredPtr)

	var size uint64
	if r := nvrtcGetPTXSize(prog, &size); r != Success {
		return "", nil, fmt.Errorf("nvrtcGetPTXSize: %w", r)
	}
	ptx := make([]byte, size)
	if size > 0 {
		if r := nvrtcGetPTX(prog, &ptx[0]); r != Success {
			return "", nil, fmt.Errorf("nvrtcGetPTX: %w", r)
		}
	}
	return lowered, ptx, nil
}
