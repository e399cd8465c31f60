package recorder_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/voicetake/internal/capture"
	"github.com/audiolibrelab/voicetake/internal/recorder"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakePublisher struct {
	mu        sync.Mutex
	published map[string][]byte
	refs      []string
	discarded []string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string][]byte)}
}

func (p *fakePublisher) Publish(data []byte, mime string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref := fmt.Sprintf("clip://%d", len(p.refs))
	stored := make([]byte, len(data))
	copy(stored, data)
	p.published[ref] = stored
	p.refs = append(p.refs, ref)
	return ref, nil
}

func (p *fakePublisher) Discard(ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discarded = append(p.discarded, ref)
	delete(p.published, ref)
	return nil
}

func (p *fakePublisher) discardedRefs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.discarded))
	copy(out, p.discarded)
	return out
}

type harness struct {
	device    *capture.FakeDevice
	publisher *fakePublisher
	ctrl      *recorder.Controller
	finished  chan recorder.Artifact
}

func newHarness(t *testing.T, device *capture.FakeDevice) *harness {
	t.Helper()
	h := &harness{
		device:    device,
		publisher: newFakePublisher(),
		finished:  make(chan recorder.Artifact, 4),
	}
	ctrl, err := recorder.New(recorder.Options{
		Device:      device,
		Constraints: capture.Constraints{SampleRate: 48000, Channels: 1},
		Publisher:   h.publisher,
		OnRecordEnd: func(a recorder.Artifact) { h.finished <- a },
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func (h *harness) waitStatus(t *testing.T, want recorder.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ctrl.Status() == want
	}, waitFor, tick, "expected status %s, last was %s", want, h.ctrl.Status())
}

func (h *harness) waitFinished(t *testing.T) recorder.Artifact {
	t.Helper()
	select {
	case a := <-h.finished:
		return a
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for the take to finalize")
		return recorder.Artifact{}
	}
}

func (h *harness) handle(t *testing.T) *capture.FakeHandle {
	t.Helper()
	handles := h.device.Handles()
	require.NotEmpty(t, handles, "no handle granted yet")
	return handles[len(handles)-1]
}

func TestRecordStopProducesConcatenatedArtifact(t *testing.T) {
	h := newHarness(t, &capture.FakeDevice{})

	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Equal(t, recorder.StatusRecording, h.ctrl.Status())

	handle := h.handle(t)
	require.True(t, handle.Session().Begun())

	b1 := []byte("fragment-one")
	b2 := []byte("fragment-two")
	handle.EmitFragment(b1)
	handle.EmitFragment(b2)

	require.NoError(t, h.ctrl.Stop())
	artifact := h.waitFinished(t)

	assert.Equal(t, recorder.StatusStopped, h.ctrl.Status())
	assert.Equal(t, append(append([]byte{}, b1...), b2...), artifact.Data)
	assert.Equal(t, "audio/wav", artifact.MIME)
	assert.NotEmpty(t, artifact.Ref)
	assert.Equal(t, 1, handle.Releases(), "hardware stream must be released exactly once")

	got, ok := h.ctrl.Artifact()
	require.True(t, ok)
	assert.Equal(t, artifact.Ref, got.Ref)
}

func TestPauseResumeSequence(t *testing.T) {
	h := newHarness(t, &capture.FakeDevice{})

	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Equal(t, recorder.StatusRecording, h.ctrl.Status())

	require.NoError(t, h.ctrl.Pause())
	require.Equal(t, recorder.StatusPaused, h.ctrl.Status())
	assert.True(t, h.handle(t).Session().Paused(), "pause must suspend capture at the device level")

	require.NoError(t, h.ctrl.Resume())
	require.Equal(t, recorder.StatusRecording, h.ctrl.Status())
	assert.False(t, h.handle(t).Session().Paused())

	b1 := []byte("after-resume")
	h.handle(t).EmitFragment(b1)

	require.NoError(t, h.ctrl.Stop())
	artifact := h.waitFinished(t)

	assert.Equal(t, recorder.StatusStopped, h.ctrl.Status())
	assert.Equal(t, b1, artifact.Data)
}

func TestStopFromPausedKeepsEarlierFragments(t *testing.T) {
	h := newHarness(t, &capture.FakeDevice{})

	require.NoError(t, h.ctrl.Start(context.Background()))
	handle := h.handle(t)
	handle.EmitFragment([]byte("before-pause"))

	require.NoError(t, h.ctrl.Pause())
	require.Equal(t, recorder.StatusPaused, h.ctrl.Status())

	require.NoError(t, h.ctrl.Stop())
	artifact := h.waitFinished(t)

	assert.Equal(t, []byte("before-pause"), artifact.Data)
	assert.Equal(t, 1, handle.Releases())
}

func TestPermissionRefusedBecomesObservableState(t *testing.T) {
	device := &capture.FakeDevice{
		AccessErr: fmt.Errorf("%w: user declined", capture.ErrPermissionRefused),
	}
	h := newHarness(t, device)

	err := h.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, capture.ErrPermissionRefused))
	assert.Equal(t, recorder.StatusPermissionDenied, h.ctrl.Status())
	assert.Empty(t, device.Handles(), "no device may be opened on refusal")

	// A retry is allowed straight from PermissionDenied.
	device.AccessErr = nil
	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, recorder.StatusRecording, h.ctrl.Status())
}

func TestAcquisitionFailureFallsBackToIdle(t *testing.T) {
	device := &capture.FakeDevice{
		AccessErr: fmt.Errorf("%w: no such device", capture.ErrAcquisitionFailed),
	}

	var observed error
	ctrl, err := recorder.New(recorder.Options{
		Device:  device,
		OnError: func(e error) { observed = e },
	})
	require.NoError(t, err)

	err = ctrl.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, recorder.StatusIdle, ctrl.Status())
	assert.True(t, errors.Is(observed, capture.ErrAcquisitionFailed))
}

func TestResetIgnoresLateFinalize(t *testing.T) {
	h := newHarness(t, &capture.FakeDevice{})

	require.NoError(t, h.ctrl.Start(context.Background()))
	handle := h.handle(t)
	handle.EmitFragment([]byte("doomed"))

	require.NoError(t, h.ctrl.Reset())
	assert.Equal(t, recorder.StatusIdle, h.ctrl.Status())
	assert.Equal(t, 1, handle.Releases(), "reset must release the abandoned stream")

	// The device completes anyway; the stale event must change nothing.
	handle.EmitFinalized()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, recorder.StatusIdle, h.ctrl.Status())
	_, ok := h.ctrl.Artifact()
	assert.False(t, ok)
	select {
	case <-h.finished:
		t.Fatal("a reset take must not finalize")
	default:
	}
}

func TestStaleAccessGrantIsReleased(t *testing.T) {
	device := &capture.FakeDevice{Gate: make(chan struct{})}
	h := newHarness(t, device)

	started := make(chan error, 1)
	go func() {
		started <- h.ctrl.Start(context.Background())
	}()

	// Abandon the attempt while the grant is still pending.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.ctrl.Reset())
	close(device.Gate)

	require.NoError(t, <-started)
	assert.Equal(t, recorder.StatusIdle, h.ctrl.Status())

	require.Eventually(t, func() bool {
		handles := device.Handles()
		return len(handles) == 1 && handles[0].Releases() == 1
	}, waitFor, tick, "a stale grant must be released, not opened")
}

func TestStopDuringPendingStartAbandonsGrant(t *testing.T) {
	device := &capture.FakeDevice{Gate: make(chan struct{})}
	h := newHarness(t, device)

	started := make(chan error, 1)
	go func() {
		started <- h.ctrl.Start(context.Background())
	}()

	// Stop while the grant is still pending; the attempt must be abandoned
	// just like a Reset would.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.ctrl.Stop())
	close(device.Gate)

	require.NoError(t, <-started)
	assert.Equal(t, recorder.StatusIdle, h.ctrl.Status(), "a late grant must not start recording")

	require.Eventually(t, func() bool {
		handles := device.Handles()
		return len(handles) == 1 && handles[0].Releases() == 1
	}, waitFor, tick, "the abandoned grant must be released, not opened")
	assert.Equal(t, recorder.StatusIdle, h.ctrl.Status())
}

func TestAbandonedTakesDoNotLeakConsumers(t *testing.T) {
	h := newHarness(t, &capture.FakeDevice{})

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		require.NoError(t, h.ctrl.Start(context.Background()))
		require.NoError(t, h.ctrl.Reset())
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, waitFor, tick, "each reset take must shut down its event consumer")
}

func TestCommandsAreNoOpsOutsideValidStates(t *testing.T) {
	h := newHarness(t, &capture.FakeDevice{})

	require.NoError(t, h.ctrl.Pause())
	require.NoError(t, h.ctrl.Resume())
	require.NoError(t, h.ctrl.Stop())
	assert.Equal(t, recorder.StatusIdle, h.ctrl.Status())

	require.NoError(t, h.ctrl.Start(context.Background()))
	require.NoError(t, h.ctrl.Resume()) // not paused
	assert.Equal(t, recorder.StatusRecording, h.ctrl.Status())

	require.NoError(t, h.ctrl.Pause())
	require.NoError(t, h.ctrl.Pause()) // already paused
	assert.Equal(t, recorder.StatusPaused, h.ctrl.Status())
}

func TestPauseFailurePreservesRecording(t *testing.T) {
	device := &capture.FakeDevice{PauseErr: capture.ErrPauseUnsupported}
	h := newHarness(t, device)

	require.NoError(t, h.ctrl.Start(context.Background()))
	err := h.ctrl.Pause()
	require.Error(t, err)
	assert.Equal(t, recorder.StatusRecording, h.ctrl.Status())
}

func TestResetAlwaysYieldsIdle(t *testing.T) {
	h := newHarness(t, &capture.FakeDevice{})

	// From Idle.
	require.NoError(t, h.ctrl.Reset())
	assert.Equal(t, recorder.StatusIdle, h.ctrl.Status())

	// From Stopped, releasing the artifact reference.
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.handle(t).EmitFragment([]byte("take"))
	require.NoError(t, h.ctrl.Stop())
	artifact := h.waitFinished(t)

	require.NoError(t, h.ctrl.Reset())
	assert.Equal(t, recorder.StatusIdle, h.ctrl.Status())
	assert.Empty(t, h.ctrl.ArtifactRef())
	assert.Contains(t, h.publisher.discardedRefs(), artifact.Ref)
}

func TestNewStartInvalidatesPreviousArtifact(t *testing.T) {
	h := newHarness(t, &capture.FakeDevice{})

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.handle(t).EmitFragment([]byte("first-take"))
	require.NoError(t, h.ctrl.Stop())
	first := h.waitFinished(t)

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Contains(t, h.publisher.discardedRefs(), first.Ref)

	h.handle(t).EmitFragment([]byte("second-take"))
	require.NoError(t, h.ctrl.Stop())
	second := h.waitFinished(t)

	assert.NotEqual(t, first.Ref, second.Ref)
	assert.Equal(t, []byte("second-take"), second.Data)
}

func TestFragmentOrderIsPreserved(t *testing.T) {
	h := newHarness(t, &capture.FakeDevice{})

	require.NoError(t, h.ctrl.Start(context.Background()))
	handle := h.handle(t)

	var want []byte
	for i := 0; i < 32; i++ {
		fragment := []byte(fmt.Sprintf("chunk-%02d|", i))
		want = append(want, fragment...)
		handle.EmitFragment(fragment)
	}

	require.NoError(t, h.ctrl.Stop())
	artifact := h.waitFinished(t)
	assert.Equal(t, want, artifact.Data)
}
