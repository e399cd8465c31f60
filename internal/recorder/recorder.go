package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/voicetake/internal/capture"
)

// Status represents the current state of the recording controller.
type Status string

const (
	StatusIdle             Status = "IDLE"
	StatusRecording        Status = "RECORDING"
	StatusPaused           Status = "PAUSED"
	StatusStopped          Status = "STOPPED"
	StatusPermissionDenied Status = "PERMISSION_DENIED"
)

// Artifact is a finalized take: the ordered concatenation of every fragment
// the device emitted, tagged with the device's reported MIME type. Ref is a
// durable local reference issued by the publisher, empty if none is wired.
type Artifact struct {
	Ref  string
	MIME string
	Data []byte
}

// Publisher turns finalized clip bytes into a durable local reference and
// releases references that went stale.
type Publisher interface {
	Publish(data []byte, mime string) (ref string, err error)
	Discard(ref string) error
}

// Options configures a Controller.
type Options struct {
	Device      capture.Device
	Constraints capture.Constraints

	// Publisher is optional; without one, finished takes carry no Ref.
	Publisher Publisher
	// OnRecordEnd is invoked after every finalized take.
	OnRecordEnd func(Artifact)
	// OnError observes non-permission acquisition failures. The controller
	// still returns to Idle regardless.
	OnError func(error)

	Logger *slog.Logger
}

// Controller drives one microphone take at a time through the
// Idle/Recording/Paused/Stopped/PermissionDenied lifecycle. Commands issued
// in a state that does not support them are silently ignored. Device events
// arrive over one ordered channel per take and are dropped once the take's
// generation is no longer current, so a reset can never be undone by a
// late grant or a late finalize.
type Controller struct {
	device      capture.Device
	constraints capture.Constraints
	publisher   Publisher
	onRecordEnd func(Artifact)
	onError     func(error)
	logger      *slog.Logger

	mu           sync.Mutex
	status       Status
	generation   uint64
	startPending bool
	fragments    [][]byte
	handle       capture.Handle
	session      capture.Session
	takeDone     chan struct{}
	finalizing   bool
	artifact     *Artifact
}

// New creates a Controller in the Idle state.
func New(opts Options) (*Controller, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("recorder: capture device is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		device:      opts.Device,
		constraints: opts.Constraints,
		publisher:   opts.Publisher,
		onRecordEnd: opts.OnRecordEnd,
		onError:     opts.OnError,
		logger:      logger,
		status:      StatusIdle,
	}, nil
}

// Start requests microphone access and begins a new take. Valid from Idle,
// Stopped, and PermissionDenied; a no-op while a take is live. The previous
// take's artifact reference is released before the device is requested.
// Start blocks until access is granted or refused; a Reset issued while the
// grant is pending wins, and the late grant is released without opening a
// device.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusIdle, StatusStopped, StatusPermissionDenied:
	default:
		c.mu.Unlock()
		c.logger.Debug("start ignored", "status", c.status)
		return nil
	}

	c.dropArtifactLocked()
	c.generation++
	gen := c.generation
	c.startPending = true
	c.mu.Unlock()

	handle, err := c.device.RequestAccess(ctx, c.constraints)

	c.mu.Lock()
	if gen != c.generation {
		// The take was abandoned while the grant was pending.
		c.mu.Unlock()
		if err == nil {
			handle.ReleaseTracks()
		}
		c.logger.Debug("stale access grant ignored", "generation", gen)
		return nil
	}
	c.startPending = false

	if err != nil {
		if errors.Is(err, capture.ErrPermissionRefused) {
			c.status = StatusPermissionDenied
			c.mu.Unlock()
			c.logger.Warn("microphone access refused")
			return err
		}
		c.status = StatusIdle
		onError := c.onError
		c.mu.Unlock()
		c.logger.Error("failed to acquire capture device", "error", err)
		if onError != nil {
			onError(err)
		}
		return err
	}

	events := make(chan capture.Event, 64)
	session, err := handle.Open(capture.ChannelCallbacks(events))
	if err == nil {
		err = session.Begin()
	}
	if err != nil {
		c.status = StatusIdle
		onError := c.onError
		c.mu.Unlock()
		handle.ReleaseTracks()
		c.logger.Error("failed to open capture session", "error", err)
		if onError != nil {
			onError(err)
		}
		return err
	}

	done := make(chan struct{})
	c.handle = handle
	c.session = session
	c.fragments = nil
	c.finalizing = false
	c.takeDone = done
	c.status = StatusRecording
	c.mu.Unlock()

	go c.consume(gen, events, done)

	c.logger.Info("recording started", "generation", gen)
	return nil
}

// consume applies device events for one take in emission order until the
// finalize event arrives or the take goes stale. done is closed when the
// take is abandoned, so a take that never finalizes does not pin the
// goroutine.
func (c *Controller) consume(gen uint64, events <-chan capture.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			switch ev.Kind {
			case capture.EventFragment:
				if !c.appendFragment(gen, ev.Data) {
					return
				}
			case capture.EventFinalized:
				c.finalize(gen, ev.MIME)
				return
			}
		}
	}
}

func (c *Controller) appendFragment(gen uint64, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.fragments = append(c.fragments, data)
	return true
}

// finalize concatenates the take's fragments in arrival order, publishes the
// clip, and moves to Stopped.
func (c *Controller) finalize(gen uint64, mime string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("late finalize ignored", "generation", gen)
		return
	}

	var total int
	for _, f := range c.fragments {
		total += len(f)
	}
	data := make([]byte, 0, total)
	for _, f := range c.fragments {
		data = append(data, f...)
	}

	artifact := Artifact{MIME: mime, Data: data}
	if c.publisher != nil {
		ref, err := c.publisher.Publish(data, mime)
		if err != nil {
			c.logger.Error("failed to publish clip", "error", err)
		} else {
			artifact.Ref = ref
		}
	}

	c.fragments = nil
	c.handle = nil
	c.session = nil
	c.takeDone = nil
	c.finalizing = false
	c.artifact = &artifact
	c.status = StatusStopped
	onRecordEnd := c.onRecordEnd
	c.mu.Unlock()

	c.logger.Info("recording finalized", "bytes", len(data), "mime", mime, "ref", artifact.Ref)
	if onRecordEnd != nil {
		onRecordEnd(artifact)
	}
}

// Pause suspends capture at the device level. A no-op unless Recording.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRecording || c.finalizing {
		c.logger.Debug("pause ignored", "status", c.status)
		return nil
	}
	if err := c.session.Pause(); err != nil {
		c.logger.Error("device refused to pause", "error", err)
		return err
	}
	c.status = StatusPaused
	c.logger.Info("recording paused")
	return nil
}

// Resume resumes capture at the device level. A no-op unless Paused.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusPaused || c.finalizing {
		c.logger.Debug("resume ignored", "status", c.status)
		return nil
	}
	if err := c.session.Resume(); err != nil {
		c.logger.Error("device refused to resume", "error", err)
		return err
	}
	c.status = StatusRecording
	c.logger.Info("recording resumed")
	return nil
}

// Stop asks the device to finalize the take and releases the hardware
// stream. Valid from Recording and Paused, including stopping a paused take
// without resuming it; fragments accumulated before the pause are still part
// of the finalized clip. The transition to Stopped happens when the device's
// finalize event arrives. A Stop issued while an access grant is still
// pending abandons the attempt, the same way Reset does.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.startPending {
		c.startPending = false
		c.generation++
		c.status = StatusIdle
		c.mu.Unlock()
		c.logger.Debug("stop abandoned pending start")
		return nil
	}
	if c.finalizing || (c.status != StatusRecording && c.status != StatusPaused) {
		c.mu.Unlock()
		c.logger.Debug("stop ignored", "status", c.status)
		return nil
	}
	c.finalizing = true
	session := c.session
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()

	session.RequestFinalize()
	handle.ReleaseTracks()
	c.logger.Debug("finalize requested, hardware released")
	return nil
}

// Reset abandons whatever is in flight and returns to Idle: the artifact
// reference is released, fragments are cleared, and any open hardware
// stream is shut down. Tolerated from every state.
func (c *Controller) Reset() error {
	c.mu.Lock()
	c.generation++
	c.startPending = false
	handle := c.handle
	c.handle = nil
	c.session = nil
	c.fragments = nil
	c.finalizing = false
	if c.takeDone != nil {
		close(c.takeDone)
		c.takeDone = nil
	}
	c.dropArtifactLocked()
	c.status = StatusIdle
	c.mu.Unlock()

	if handle != nil {
		handle.ReleaseTracks()
	}
	c.logger.Info("recorder reset")
	return nil
}

// dropArtifactLocked releases the finished clip's reference, if any.
func (c *Controller) dropArtifactLocked() {
	if c.artifact == nil {
		return
	}
	if c.publisher != nil && c.artifact.Ref != "" {
		if err := c.publisher.Discard(c.artifact.Ref); err != nil {
			c.logger.Warn("failed to release clip reference", "ref", c.artifact.Ref, "error", err)
		}
	}
	c.artifact = nil
}

// Status returns the controller's current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Artifact returns the finished take. The second return is false unless the
// controller is Stopped.
func (c *Controller) Artifact() (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.artifact == nil {
		return Artifact{}, false
	}
	return *c.artifact, true
}

// ArtifactRef returns the durable local reference of the finished take, or
// an empty string when there is none.
func (c *Controller) ArtifactRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.artifact == nil {
		return ""
	}
	return c.artifact.Ref
}
