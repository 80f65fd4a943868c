package cuda

import "math"

func floatBits32(f float32) uint32 { return math.Float32bits(f) }
func floatBits64(f float64) uint64 { return math.Float64bits(f) }

// Event marks a point in a stream.
type Event struct {
	handle uintptr
}

func NewEvent() (*Event, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	var ev uintptr
	if err := check(cuEventCreate(&ev, 0), "cuEventCreate"); err != nil {
		return nil, err
	}
	return &Event{handle: ev}, nil
}

func (e *Event) Record(stream uintptr) error {
	return check(cuEventRecord(e.handle, stream), "cuEventRecord")
}

func (e *Event) Synchronize() error {
	return check(cuEventSynchronize(e.handle), "cuEventSynchronize")
}

// SecondsSince returns the elapsed time in seconds between before and this
// event.
func (e *Event) SecondsSince(before *Event) (float64, error) {
	var millis float32
	if err := check(cuEventElapsedTime(&millis, before.handle, e.handle), "cuEventElapsedTime"); err != nil {
		return 0, err
	}
	return float64(millis) / 1000, nil
}

func (e *Event) Destroy() error {
	if e.handle == 0 {
		return nil
	}
	err := check(cuEventDestroy(e.handle), "cuEventDestroy")
	e.handle = 0
	return err
}

// Stream is an asynchronous execution stream. The zero Stream is the
// default stream.
type Stream struct {
	handle uintptr
}

func NewStream() (*Stream, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	var s uintptr
	if err := check(cuStreamCreate(&s, 0), "cuStreamCreate"); err != nil {
		return nil, err
	}
	return &Stream{handle: s}, nil
}

func (s *Stream) Handle() uintptr { return s.handle }

func (s *Stream) Synchronize() error {
	return check(cuStreamSynchronize(s.handle), "cuStreamSynchronize")
}

func (s *Stream) Destroy() error {
	if s.handle == 0 {
		return nil
	}
	err := check(cuStreamDestroy(s.handle), "cuStreamDestroy")
	s.handle = 0
	return err
}
