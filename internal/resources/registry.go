// Package resources maps the symbolic sound and art ids of a script to
// loaded audio handles and image paths.
package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/AaronLay10/soundstage/internal/audio"
	"github.com/AaronLay10/soundstage/internal/events"
	"github.com/AaronLay10/soundstage/internal/script"
)

const (
	SoundDir = "sounds"
	ArtDir   = "art"

	DefaultVolume = 0.5
)

// ResourceLoadError is returned when a declared sound cannot be loaded.
// The engine must not start after one.
type ResourceLoadError struct {
	ID   string
	Path string
	Err  error
}

func (e *ResourceLoadError) Error() string {
	return fmt.Sprintf("failed to load sound %q from %s: %v", e.ID, e.Path, e.Err)
}

func (e *ResourceLoadError) Unwrap() error { return e.Err }

// MissingResourceError reports an id that is not declared, or art whose
// file is gone. Dispatch treats it as a no-op.
type MissingResourceError struct {
	Kind string
	ID   string
	Path string
}

func (e *MissingResourceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %q: file not found: %s", e.Kind, e.ID, e.Path)
	}
	return fmt.Sprintf("%s %q is not declared", e.Kind, e.ID)
}

// Sound is a loaded sound id.
type Sound struct {
	ID     string
	Path   string
	Handle audio.Handle
	// Volume is the level fade-ins ramp to.
	Volume float64
}

// Options configures Load.
type Options struct {
	// DefaultVolume is applied to every handle after loading. Zero means DefaultVolume.
	DefaultVolume float64
	Emitter       events.Emitter
}

// Registry holds every sound handle of a map and resolves art paths on demand.
type Registry struct {
	mu      sync.RWMutex
	root    string
	backend audio.Backend
	sounds  map[string]*Sound
	art     map[string]string
}

// Load eagerly loads every sound in m.SoundIDs from <root>/sounds. The first
// failure aborts with a *ResourceLoadError and releases the handles loaded so
// far. Art is only recorded here.
func Load(ctx context.Context, m *script.ObjectMap, backend audio.Backend, opts Options) (*Registry, error) {
	if opts.DefaultVolume <= 0 {
		opts.DefaultVolume = DefaultVolume
	}
	volume := audio.ClampVolume(opts.DefaultVolume)

	r := &Registry{
		root:    m.Root,
		backend: backend,
		sounds:  make(map[string]*Sound, len(m.SoundIDs)),
		art:     make(map[string]string, len(m.ArtIDs)),
	}

	ids := make([]string, 0, len(m.SoundIDs))
	for id := range m.SoundIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			r.release()
			return nil, err
		}

		path := filepath.Join(m.Root, SoundDir, m.SoundIDs[id])
		h, err := backend.Load(path)
		if err != nil {
			r.release()
			return nil, &ResourceLoadError{ID: id, Path: path, Err: err}
		}
		backend.SetVolume(h, volume)
		r.sounds[id] = &Sound{ID: id, Path: path, Handle: h, Volume: volume}

		if opts.Emitter != nil {
			opts.Emitter.Emit("info", "resource.loaded", "sound loaded", map[string]interface{}{
				"sound_id": id,
				"path":     path,
			})
		}
	}

	for id, p := range m.ArtIDs {
		r.art[id] = p
	}

	return r, nil
}

func (r *Registry) release() {
	for id, s := range r.sounds {
		_ = r.backend.Release(s.Handle)
		delete(r.sounds, id)
	}
}

// Sound returns the loaded sound for id.
func (r *Registry) Sound(id string) (*Sound, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sounds[id]
	if !ok {
		return nil, &MissingResourceError{Kind: "sound", ID: id}
	}
	return s, nil
}

// ArtPath resolves id to <root>/art/<path> and checks the file exists.
func (r *Registry) ArtPath(id string) (string, error) {
	r.mu.RLock()
	p, ok := r.art[id]
	r.mu.RUnlock()
	if !ok {
		return "", &MissingResourceError{Kind: "art", ID: id}
	}

	path := filepath.Join(r.root, ArtDir, p)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", &MissingResourceError{Kind: "art", ID: id, Path: path}
	}
	return path, nil
}

// SoundIDs returns the loaded sound ids in sorted order.
func (r *Registry) SoundIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sounds))
	for id := range r.sounds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Backend returns the backend the handles belong to.
func (r *Registry) Backend() audio.Backend {
	return r.backend
}

// Close stops every handle that is still playing.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, s := range r.sounds {
		if !r.backend.IsPlaying(s.Handle) {
			continue
		}
		if err := r.backend.Stop(s.Handle); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
