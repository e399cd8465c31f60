package capture

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for device acquisition. PermissionRefused means the user
// (or the OS on their behalf) declined microphone access; everything else
// that prevents opening a device is an acquisition failure.
var (
	ErrPermissionRefused = errors.New("capture: microphone access refused")
	ErrAcquisitionFailed = errors.New("capture: device acquisition failed")
	ErrPauseUnsupported  = errors.New("capture: backend does not support pausing")
)

// Constraints describes how the microphone should be captured.
type Constraints struct {
	DeviceID         string
	SampleRate       int
	Channels         int
	FragmentInterval time.Duration
}

// Callbacks receive asynchronous events from an open device session.
// All OnFragment calls for a session happen before its OnFinalized call.
type Callbacks struct {
	OnFragment  func(data []byte)
	OnFinalized func(mime string)
}

// Device is the host platform's microphone capture capability.
type Device interface {
	// RequestAccess acquires the capture hardware. It blocks until access is
	// granted, refused, or ctx is done.
	RequestAccess(ctx context.Context, c Constraints) (Handle, error)
}

// Handle is an acquired capture device. ReleaseTracks must be called exactly
// once per handle to stop the underlying hardware stream.
type Handle interface {
	Open(cb Callbacks) (Session, error)
	ReleaseTracks()
}

// Session is a live capture session on an open handle.
type Session interface {
	Begin() error
	Pause() error
	Resume() error
	// RequestFinalize asks the device to flush pending fragments and emit
	// the OnFinalized callback. It never blocks on the callbacks.
	RequestFinalize()
}

// EventKind discriminates the two device event cases.
type EventKind uint8

const (
	EventFragment EventKind = iota + 1
	EventFinalized
)

// Event is a device event as delivered over an ordered channel: either an
// encoded audio fragment or the finalize notification carrying a MIME hint.
type Event struct {
	Kind EventKind
	Data []byte
	MIME string
}

// ChannelCallbacks returns Callbacks that forward device events into ch,
// preserving emission order.
func ChannelCallbacks(ch chan<- Event) Callbacks {
	return Callbacks{
		OnFragment: func(data []byte) {
			ch <- Event{Kind: EventFragment, Data: data}
		},
		OnFinalized: func(mime string) {
			ch <- Event{Kind: EventFinalized, MIME: mime}
		},
	}
}

// DeviceInfo describes an enumerable capture device.
type DeviceInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}
