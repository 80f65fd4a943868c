package kl

import (
	"fmt"
	"os"
)

// Stream is an opaque handle to an asynchronous GPU execution stream. The
// zero Stream is the default stream.
type Stream uintptr

// DeviceInfo describes the device kernels are tuned for. It identifies
// tuning-cache provenance and drives the compiler's architecture flag.
type DeviceInfo struct {
	Ordinal       int32
	Name          string
	Major         int
	Minor         int
	DriverVersion int
}

// ArchFlag returns the NVRTC architecture option for this device.
func (d DeviceInfo) ArchFlag() string {
	return fmt.Sprintf("--gpu-architecture=compute_%d%d", d.Major, d.Minor)
}

// Module is a loaded GPU module holding a single launchable kernel. Args are
// scalars (int32, uint32, int64, uint64, float32, float64) or device
// pointers; the driver implementation marshals them.
type Module interface {
	Launch(grid, block Dim3, sharedMem uint32, stream Stream, args []any) error
	Unload() error
}

// Event marks a point in a stream; pairs of events measure elapsed kernel
// time.
type Event interface {
	Record(stream Stream) error
	Synchronize() error

	// SecondsSince returns the elapsed time in seconds between before and
	// this event. Both must have been recorded and completed.
	SecondsSince(before Event) (float64, error)
}

// Driver is the narrow surface of the GPU driver consumed by the tuning
// engine: module loading, event timing, device identity, and the context
// plumbing needed to compile on background goroutines.
type Driver interface {
	LoadModule(image []byte, symbol string) (Module, error)
	NewEvent() (Event, error)
	CurrentDevice() (DeviceInfo, error)

	// CurrentContext and SetContext let the async compiler re-bind the
	// caller's device context inside a background goroutine.
	CurrentContext() (uintptr, error)
	SetContext(ctx uintptr) error
}

// Source is a kernel source file, optionally with inline content so no file
// needs to exist on disk.
type Source struct {
	filename string
	content  string
	inline   bool
}

func FileSource(filename string) Source {
	return Source{filename: filename}
}

func InlineSource(filename, content string) Source {
	return Source{filename: filename, content: content, inline: true}
}

func (s Source) FileName() string { return s.filename }

// Read returns the source text, loading it from disk unless the content was
// given inline.
func (s Source) Read() (string, error) {
	if s.inline {
		return s.content, nil
	}
	data, err := os.ReadFile(s.filename)
	if err != nil {
		return "", fmt.Errorf("kl: read kernel source: %w", err)
	}
	return string(data), nil
}
