package kl

import "errors"

var (
	// ErrCast indicates a dynamic value cannot be narrowed to the requested type.
	ErrCast = errors.New("kl: invalid cast")

	// ErrArithmetic indicates division or modulo by zero, or overflow while
	// computing the cardinality of a configuration space.
	ErrArithmetic = errors.New("kl: arithmetic error")

	// ErrInvalidConfig indicates a configuration that is missing parameters,
	// carries unknown parameters or out-of-domain values, or fails a restriction.
	ErrInvalidConfig = errors.New("kl: invalid configuration")

	// ErrCompile indicates the underlying compiler rejected the kernel source.
	// The error message includes the compiler log.
	ErrCompile = errors.New("kl: compilation failed")

	// ErrCacheMismatch indicates a tuning cache file exists but its header
	// disagrees with the current kernel builder or device.
	ErrCacheMismatch = errors.New("kl: tuning cache mismatch")

	// ErrDriver wraps an opaque error from the GPU driver.
	ErrDriver = errors.New("kl: driver error")

	// ErrNotReady indicates a kernel module was requested before its
	// compilation finished.
	ErrNotReady = errors.New("kl: kernel module not ready")
)
