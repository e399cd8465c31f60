package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

const mimeWAV = "audio/wav"

// MalgoDevice captures microphone audio through miniaudio. Sessions emit a
// streaming WAV header fragment followed by raw PCM-16 fragments, so the
// ordered concatenation of all fragments is a playable WAV file.
type MalgoDevice struct {
	logger *slog.Logger
}

// NewMalgoDevice creates the default microphone capture device.
func NewMalgoDevice(logger *slog.Logger) *MalgoDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoDevice{logger: logger}
}

// RequestAccess acquires the capture hardware context and, if a device ID is
// constrained, resolves it against the enumerable capture devices.
func (d *MalgoDevice) RequestAccess(ctx context.Context, c Constraints) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allocCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		d.logger.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, classifyAccessError(err)
	}

	if err := ctx.Err(); err != nil {
		_ = allocCtx.Uninit()
		allocCtx.Free()
		return nil, err
	}

	h := &malgoHandle{ctx: allocCtx, constraints: c, logger: d.logger}
	if c.DeviceID != "" {
		if err := h.selectDevice(c.DeviceID); err != nil {
			h.ReleaseTracks()
			return nil, err
		}
	}
	return h, nil
}

// ListDevices enumerates the capture devices visible to miniaudio.
func (d *MalgoDevice) ListDevices() ([]DeviceInfo, error) {
	allocCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyAccessError(err)
	}
	defer func() {
		_ = allocCtx.Uninit()
		allocCtx.Free()
	}()

	infos, err := allocCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, DeviceInfo{
			ID:        info.ID.String(),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// classifyAccessError maps a miniaudio init error onto the capture taxonomy.
// miniaudio reports OS permission refusals as "Access denied".
func classifyAccessError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionRefused, err)
	}
	return fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
}

type malgoHandle struct {
	ctx         *malgo.AllocatedContext
	constraints Constraints
	logger      *slog.Logger

	deviceID    malgo.DeviceID
	hasDeviceID bool

	release sync.Once
	session *malgoSession
}

// selectDevice resolves the constrained device ID against the capture
// device list, matching either the miniaudio ID or the device name.
func (h *malgoHandle) selectDevice(wanted string) error {
	infos, err := h.ctx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	for _, info := range infos {
		if info.ID.String() == wanted || strings.EqualFold(info.Name(), wanted) {
			h.deviceID = info.ID
			h.hasDeviceID = true
			return nil
		}
	}
	return fmt.Errorf("%w: capture device not found: %s", ErrAcquisitionFailed, wanted)
}

func (h *malgoHandle) Open(cb Callbacks) (Session, error) {
	c := h.constraints

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.Channels)
	deviceConfig.SampleRate = uint32(c.SampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if h.hasDeviceID {
		deviceConfig.Capture.DeviceID = h.deviceID.Pointer()
	}

	// bytes per fragment at 16-bit PCM
	byteRate := c.SampleRate * c.Channels * 2
	fragmentBytes := int(float64(byteRate) * c.FragmentInterval.Seconds())
	if fragmentBytes <= 0 {
		fragmentBytes = byteRate / 4
	}

	s := &malgoSession{
		cb:            cb,
		constraints:   c,
		fragmentBytes: fragmentBytes,
		logger:        h.logger,
	}

	device, err := malgo.InitDevice(h.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	s.device = device
	h.session = s

	return s, nil
}

// ReleaseTracks stops the hardware stream and frees the miniaudio context.
// Safe to call from any state; only the first call has an effect.
func (h *malgoHandle) ReleaseTracks() {
	h.release.Do(func() {
		if h.session != nil {
			h.session.teardown()
		}
		_ = h.ctx.Uninit()
		h.ctx.Free()
		h.logger.Debug("capture hardware released")
	})
}

type malgoSession struct {
	cb          Callbacks
	constraints Constraints
	logger      *slog.Logger
	device      *malgo.Device

	mu            sync.Mutex
	pending       []byte
	fragmentBytes int
	headerSent    bool
	finalized     bool
}

// onFrames runs on the miniaudio capture thread. It batches PCM bytes into
// fragments of roughly FragmentInterval length.
func (s *malgoSession) onFrames(_, input []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return
	}
	s.pending = append(s.pending, input...)
	for len(s.pending) >= s.fragmentBytes {
		s.emitLocked(s.fragmentBytes)
	}
}

func (s *malgoSession) emitLocked(n int) {
	fragment := make([]byte, n)
	copy(fragment, s.pending)
	s.pending = s.pending[n:]
	if s.cb.OnFragment != nil {
		s.cb.OnFragment(fragment)
	}
}

// flushLocked emits whatever is pending as a final short fragment.
func (s *malgoSession) flushLocked() {
	if len(s.pending) > 0 {
		s.emitLocked(len(s.pending))
	}
}

func (s *malgoSession) Begin() error {
	s.mu.Lock()
	if !s.headerSent {
		header, err := StreamingWAVHeader(s.constraints.SampleRate, s.constraints.Channels)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if s.cb.OnFragment != nil {
			s.cb.OnFragment(header)
		}
		s.headerSent = true
	}
	s.mu.Unlock()

	if err := s.device.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	return nil
}

// Pause stops the hardware stream without tearing it down. Pending PCM is
// flushed so a later stop-from-paused still finalizes everything captured.
func (s *malgoSession) Pause() error {
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("failed to pause capture: %w", err)
	}
	s.mu.Lock()
	s.flushLocked()
	s.mu.Unlock()
	return nil
}

func (s *malgoSession) Resume() error {
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to resume capture: %w", err)
	}
	return nil
}

func (s *malgoSession) RequestFinalize() {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return
	}
	// Claim the finalize before dropping the lock, so a concurrent call
	// cannot emit a second finalize event while we wait on device.Stop.
	s.finalized = true
	s.mu.Unlock()

	// Stop so the capture thread quiesces before the final flush.
	_ = s.device.Stop()

	s.mu.Lock()
	s.flushLocked()
	cb := s.cb
	s.mu.Unlock()

	if cb.OnFinalized != nil {
		cb.OnFinalized(mimeWAV)
	}
}

// teardown abandons the session without emitting a finalize event.
func (s *malgoSession) teardown() {
	s.mu.Lock()
	s.finalized = true
	s.pending = nil
	s.mu.Unlock()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
}
