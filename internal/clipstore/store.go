package clipstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	refScheme = "voicetake://clip/"
	indexFile = "clips.yaml"
)

// Clip is a stored, finalized recording with a locally resolvable reference.
type Clip struct {
	ID        string    `yaml:"id" json:"id"`
	Ref       string    `yaml:"ref" json:"ref"`
	Path      string    `yaml:"path" json:"path"`
	MIME      string    `yaml:"mime" json:"mime"`
	Size      int64     `yaml:"size" json:"size"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// Store keeps finalized clips on disk under a single directory, with a YAML
// index so references survive restarts. Releasing a clip removes both the
// bytes and the index entry, after which its reference no longer resolves.
type Store struct {
	mu    sync.RWMutex
	dir   string
	clips map[string]Clip
	order []string
}

type index struct {
	Clips []Clip `yaml:"clips"`
}

// Open creates the clips directory if needed and loads the index. Index
// entries whose file disappeared are dropped.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("clips directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clips directory: %w", err)
	}

	s := &Store{
		dir:   dir,
		clips: make(map[string]Clip),
	}

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read clip index: %w", err)
	}

	var idx index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse clip index: %w", err)
	}
	for _, clip := range idx.Clips {
		if _, err := os.Stat(clip.Path); err != nil {
			slog.Warn("dropping clip with missing file", "id", clip.ID, "path", clip.Path)
			continue
		}
		s.clips[clip.ID] = clip
		s.order = append(s.order, clip.ID)
	}
	return s, nil
}

// Put stores clip bytes and returns the clip with its durable reference.
func (s *Store) Put(data []byte, mime string) (Clip, error) {
	id := uuid.NewString()
	path := filepath.Join(s.dir, id+extForMIME(mime))

	if err := os.WriteFile(path, data, 0644); err != nil {
		return Clip{}, fmt.Errorf("failed to write clip file: %w", err)
	}

	clip := Clip{
		ID:        id,
		Ref:       refScheme + id,
		Path:      path,
		MIME:      mime,
		Size:      int64(len(data)),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.clips[id] = clip
	s.order = append(s.order, id)
	err := s.saveIndexLocked()
	s.mu.Unlock()

	if err != nil {
		return Clip{}, err
	}
	slog.Debug("clip stored", "id", id, "size", clip.Size, "mime", mime)
	return clip, nil
}

// Get looks up a clip by ID.
func (s *Store) Get(id string) (Clip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clip, ok := s.clips[id]
	return clip, ok
}

// Resolve looks up a clip by its voicetake://clip/<id> reference.
func (s *Store) Resolve(ref string) (Clip, bool) {
	id, ok := strings.CutPrefix(ref, refScheme)
	if !ok {
		return Clip{}, false
	}
	return s.Get(id)
}

// Release invalidates a clip reference and deletes its bytes. Releasing an
// unknown ID is not an error; the reference is simply already gone.
func (s *Store) Release(id string) error {
	s.mu.Lock()
	clip, ok := s.clips[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.clips, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	err := s.saveIndexLocked()
	s.mu.Unlock()

	if removeErr := os.Remove(clip.Path); removeErr != nil && !os.IsNotExist(removeErr) {
		slog.Warn("failed to remove clip file", "path", clip.Path, "error", removeErr)
	}
	slog.Debug("clip released", "id", id)
	return err
}

// List returns stored clips, newest first.
func (s *Store) List() []Clip {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Clip, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.clips[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Publish implements recorder.Publisher.
func (s *Store) Publish(data []byte, mime string) (string, error) {
	clip, err := s.Put(data, mime)
	if err != nil {
		return "", err
	}
	return clip.Ref, nil
}

// Discard implements recorder.Publisher.
func (s *Store) Discard(ref string) error {
	id, ok := strings.CutPrefix(ref, refScheme)
	if !ok {
		return fmt.Errorf("not a clip reference: %s", ref)
	}
	return s.Release(id)
}

// Dir returns the directory clips are stored under.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) saveIndexLocked() error {
	idx := index{Clips: make([]Clip, 0, len(s.order))}
	for _, id := range s.order {
		idx.Clips = append(idx.Clips, s.clips[id])
	}
	data, err := yaml.Marshal(&idx)
	if err != nil {
		return fmt.Errorf("failed to marshal clip index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write clip index: %w", err)
	}
	return nil
}

func extForMIME(mime string) string {
	switch {
	case strings.HasPrefix(mime, "audio/wav"), strings.HasPrefix(mime, "audio/x-wav"):
		return ".wav"
	case strings.HasPrefix(mime, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(mime, "audio/webm"):
		return ".webm"
	case strings.HasPrefix(mime, "audio/mpeg"):
		return ".mp3"
	default:
		return ".bin"
	}
}
