package cuda

import (
	"fmt"
	"strings"
)

// Device is a CUDA device ordinal.
type Device int32

// DeviceCount returns the number of CUDA devices.
func DeviceCount() (int, error) {
	if err := Init(); err != nil {
		return 0, err
	}
	var n int32
	if err := check(cuDeviceGetCount(&n), "cuDeviceGetCount"); err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetDevice returns the device with the given ordinal.
func GetDevice(ordinal int) (Device, error) {
	if err := Init(); err != nil {
		return 0, err
	}
	var dev int32
	if err := check(cuDeviceGet(&dev, int32(ordinal)), "cuDeviceGet"); err != nil {
		return 0, err
	}
	return Device(dev), nil
}

// CurrentDevice returns the device of the current context.
func CurrentDevice() (Device, error) {
	if err := Init(); err != nil {
		return 0, err
	}
	var dev int32
	if err := check(cuCtxGetDevice(&dev), "cuCtxGetDevice"); err != nil {
		return 0, err
	}
	return Device(dev), nil
}

// Name returns the device's marketing name.
func (d Device) Name() (string, error) {
	buf := make([]byte, 256)
	if err := check(cuDeviceGetName(&buf[0], int32(len(buf)), int32(d)), "cuDeviceGetName"); err != nil {
		return "", err
	}
	if i := strings.IndexByte(string(buf), 0); i >= 0 {
		return string(buf[:i]), nil
	}
	return string(buf), nil
}

// Attribute queries a device attribute.
func (d Device) Attribute(attrib int32) (int, error) {
	var v int32
	if err := check(cuDeviceGetAttribute(&v, attrib, int32(d)), "cuDeviceGetAttribute"); err != nil {
		return 0, err
	}
	return int(v), nil
}

// ComputeCapability returns the device's (major, minor) compute capability.
func (d Device) ComputeCapability() (int, int, error) {
	major, err := d.Attribute(AttrComputeCapabilityMajor)
	if err != nil {
		return 0, 0, err
	}
	minor, err := d.Attribute(AttrComputeCapabilityMinor)
	if err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

// RetainPrimaryContext retains the device's primary context and makes it
// current.
func (d Device) RetainPrimaryContext() (uintptr, error) {
	var ctx uintptr
	if err := check(cuDevicePrimaryCtxRetain(&ctx, int32(d)), "cuDevicePrimaryCtxRetain"); err != nil {
		return 0, err
	}
	if err := check(cuCtxSetCurrent(ctx), "cuCtxSetCurrent"); err != nil {
		return 0, err
	}
	return ctx, nil
}

// CurrentContext returns the calling goroutine's current context handle.
func CurrentContext() (uintptr, error) {
	if err := Init(); err != nil {
		return 0, err
	}
	var ctx uintptr
	if err := check(cuCtxGetCurrent(&ctx), "cuCtxGetCurrent"); err != nil {
		return 0, err
	}
	return ctx, nil
}

// SetContext binds a context to the calling goroutine's thread.
func SetContext(ctx uintptr) error {
	if err := Init(); err != nil {
		return err
	}
	return check(cuCtxSetCurrent(ctx), "cuCtxSetCurrent")
}

func (d Device) String() string {
	return fmt.Sprintf("cuda:%d", int32(d))
}
