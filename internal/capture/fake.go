package capture

import (
	"context"
	"sync"
)

// FakeDevice is an in-memory capture device used by tests and by dry runs
// on machines without a microphone. Fragments are injected by the test
// through the handle, and RequestFinalize emits the finalize event
// synchronously after all injected fragments.
type FakeDevice struct {
	// AccessErr, when set, fails every RequestAccess with that error.
	AccessErr error
	// Gate, when set, blocks RequestAccess until the channel is closed or
	// the context is done. Used to exercise stale-grant handling.
	Gate chan struct{}
	// PauseErr, when set, fails Session.Pause with that error.
	PauseErr error
	// MIME reported on finalize. Defaults to "audio/wav".
	MIME string

	mu      sync.Mutex
	handles []*FakeHandle
}

func (d *FakeDevice) RequestAccess(ctx context.Context, c Constraints) (Handle, error) {
	if d.Gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.Gate:
		}
	}
	if d.AccessErr != nil {
		return nil, d.AccessErr
	}

	h := &FakeHandle{device: d, constraints: c}
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	return h, nil
}

// Handles returns every handle this device has granted.
func (d *FakeDevice) Handles() []*FakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeHandle, len(d.handles))
	copy(out, d.handles)
	return out
}

func (d *FakeDevice) mime() string {
	if d.MIME != "" {
		return d.MIME
	}
	return mimeWAV
}

// FakeHandle is a granted fake device handle.
type FakeHandle struct {
	device      *FakeDevice
	constraints Constraints

	mu       sync.Mutex
	cb       Callbacks
	session  *FakeSession
	releases int
}

func (h *FakeHandle) Open(cb Callbacks) (Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cb = cb
	h.session = &FakeSession{handle: h}
	return h.session, nil
}

func (h *FakeHandle) ReleaseTracks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
}

// Releases reports how many times ReleaseTracks was called. The contract is
// exactly once per granted handle.
func (h *FakeHandle) Releases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}

// EmitFragment injects a device fragment, as if the hardware produced it.
func (h *FakeHandle) EmitFragment(data []byte) {
	h.mu.Lock()
	cb := h.cb
	h.mu.Unlock()
	if cb.OnFragment != nil {
		cb.OnFragment(data)
	}
}

// EmitFinalized injects a finalize event without going through the session.
// Used to model a device completing after the controller abandoned the take.
func (h *FakeHandle) EmitFinalized() {
	h.mu.Lock()
	cb := h.cb
	h.mu.Unlock()
	if cb.OnFinalized != nil {
		cb.OnFinalized(h.device.mime())
	}
}

// Session returns the session opened on this handle, if any.
func (h *FakeHandle) Session() *FakeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// FakeSession records the lifecycle calls made by the controller.
type FakeSession struct {
	handle *FakeHandle

	mu        sync.Mutex
	begun     bool
	paused    bool
	finalized bool
}

func (s *FakeSession) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun = true
	return nil
}

func (s *FakeSession) Pause() error {
	if err := s.handle.device.PauseErr; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}

func (s *FakeSession) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

func (s *FakeSession) RequestFinalize() {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return
	}
	s.finalized = true
	s.mu.Unlock()
	s.handle.EmitFinalized()
}

// Paused reports whether the device-level capture is currently suspended.
func (s *FakeSession) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Begun reports whether capture was started on this session.
func (s *FakeSession) Begun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun
}

// Finalized reports whether finalize was requested on this session.
func (s *FakeSession) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}
