package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/voicetake/internal/capture"
	"github.com/audiolibrelab/voicetake/internal/clipstore"
	"github.com/audiolibrelab/voicetake/internal/config"
	"github.com/audiolibrelab/voicetake/internal/play"
	"github.com/audiolibrelab/voicetake/internal/recorder"
)

// Service is the core voicetake surface shared by the CLI and the control
// server: the five recording commands plus clip access and playback.
type Service interface {
	// Recording commands
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	Reset() error

	// Observables
	Status() recorder.Status
	CurrentClip() (clipstore.Clip, bool)

	// Clip operations
	ListClips() []clipstore.Clip
	GetClip(id string) (clipstore.Clip, bool)
	ReleaseClip(id string) error
	Play(id string) error

	// Configuration
	GetConfig() *config.Config
}

// VoicetakeService is the main service implementation.
type VoicetakeService struct {
	cfg        *config.Config
	controller *recorder.Controller
	store      *clipstore.Store
	player     *play.Player
	logger     *slog.Logger

	recordEnd chan clipstore.Clip
}

// New wires a service around the given capture device. The device is an
// argument so tests and dry runs can substitute capture.FakeDevice for the
// microphone.
func New(cfg *config.Config, device capture.Device, logger *slog.Logger) (*VoicetakeService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := clipstore.Open(cfg.Clips.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to open clip store: %w", err)
	}

	s := &VoicetakeService{
		cfg:       cfg,
		store:     store,
		player:    play.New(),
		logger:    logger,
		recordEnd: make(chan clipstore.Clip, 1),
	}

	controller, err := recorder.New(recorder.Options{
		Device: device,
		Constraints: capture.Constraints{
			DeviceID:         cfg.Capture.Device,
			SampleRate:       cfg.Capture.SampleRate,
			Channels:         cfg.Capture.Channels,
			FragmentInterval: cfg.Capture.FragmentInterval,
		},
		Publisher:   store,
		OnRecordEnd: s.onRecordEnd,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	s.controller = controller

	return s, nil
}

func (s *VoicetakeService) onRecordEnd(artifact recorder.Artifact) {
	clip, ok := s.store.Resolve(artifact.Ref)
	if !ok {
		// Publishing failed; the take finished but has no durable reference.
		s.logger.Warn("finished take has no stored clip", "ref", artifact.Ref)
		return
	}
	// Keep only the latest finished take; drop an unread one.
	select {
	case s.recordEnd <- clip:
	default:
		select {
		case <-s.recordEnd:
		default:
		}
		s.recordEnd <- clip
	}
}

// RecordEnded delivers each finished take's stored clip. Holds at most the
// latest unread clip.
func (s *VoicetakeService) RecordEnded() <-chan clipstore.Clip {
	return s.recordEnd
}

func (s *VoicetakeService) Start(ctx context.Context) error { return s.controller.Start(ctx) }
func (s *VoicetakeService) Stop() error                     { return s.controller.Stop() }
func (s *VoicetakeService) Pause() error                    { return s.controller.Pause() }
func (s *VoicetakeService) Resume() error                   { return s.controller.Resume() }
func (s *VoicetakeService) Reset() error                    { return s.controller.Reset() }

func (s *VoicetakeService) Status() recorder.Status { return s.controller.Status() }

// CurrentClip returns the stored clip for the finished take, if the
// controller is Stopped and publishing succeeded.
func (s *VoicetakeService) CurrentClip() (clipstore.Clip, bool) {
	ref := s.controller.ArtifactRef()
	if ref == "" {
		return clipstore.Clip{}, false
	}
	return s.store.Resolve(ref)
}

func (s *VoicetakeService) ListClips() []clipstore.Clip { return s.store.List() }

func (s *VoicetakeService) GetClip(id string) (clipstore.Clip, bool) { return s.store.Get(id) }

func (s *VoicetakeService) ReleaseClip(id string) error { return s.store.Release(id) }

// Play plays a stored clip through a local audio player. Playback is a
// presentation concern, fully independent of the recording state machine.
func (s *VoicetakeService) Play(id string) error {
	clip, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("clip not found: %s", id)
	}
	return s.player.Play(clip.Path)
}

func (s *VoicetakeService) GetConfig() *config.Config { return s.cfg }
