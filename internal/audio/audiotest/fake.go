// Package audiotest provides an in-memory audio backend for tests.
package audiotest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AaronLay10/soundstage/internal/audio"
)

// Handle is the fake's handle type. Its fields are read through Fake.
type Handle struct {
	path string

	playing bool
	volume  float64
	loop    audio.LoopMode
	plays   int
	stops   int
	volumes []float64

	subs     map[int]audio.PositionFunc
	nextSub  int
	released bool
}

func (h *Handle) Path() string { return h.path }

// Fake records every call. Paths added with Fail cannot be loaded.
type Fake struct {
	mu      sync.Mutex
	handles map[string]*Handle
	failing map[string]error
	closed  bool
}

func New() *Fake {
	return &Fake{
		handles: make(map[string]*Handle),
		failing: make(map[string]error),
	}
}

// Fail makes Load(path) return err.
func (f *Fake) Fail(path string, err error) {
	f.mu.Lock()
	f.failing[path] = err
	f.mu.Unlock()
}

func (f *Fake) Load(path string) (audio.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, audio.ErrClosed
	}
	if err, ok := f.failing[path]; ok {
		return nil, err
	}
	if h, ok := f.handles[path]; ok {
		return h, nil
	}
	h := &Handle{path: path, volume: 1, subs: make(map[int]audio.PositionFunc)}
	f.handles[path] = h
	return h, nil
}

func (f *Fake) handle(h audio.Handle) *Handle {
	fh, ok := h.(*Handle)
	if !ok {
		panic(fmt.Sprintf("audiotest: foreign handle %T", h))
	}
	return fh
}

func (f *Fake) Play(h audio.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh := f.handle(h)
	if fh.playing {
		return nil
	}
	fh.playing = true
	fh.plays++
	return nil
}

func (f *Fake) Stop(h audio.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh := f.handle(h)
	fh.playing = false
	fh.stops++
	return nil
}

func (f *Fake) IsPlaying(h audio.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle(h).playing
}

func (f *Fake) SetVolume(h audio.Handle, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh := f.handle(h)
	fh.volume = audio.ClampVolume(v)
	fh.volumes = append(fh.volumes, fh.volume)
}

func (f *Fake) Volume(h audio.Handle) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle(h).volume
}

func (f *Fake) SetLoopMode(h audio.Handle, m audio.LoopMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handle(h).loop = m
}

type subscription struct {
	f  *Fake
	h  *Handle
	id int
}

func (s *subscription) Cancel() {
	s.f.mu.Lock()
	delete(s.h.subs, s.id)
	s.f.mu.Unlock()
}

func (f *Fake) OnPosition(h audio.Handle, fn audio.PositionFunc) audio.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh := f.handle(h)
	fh.nextSub++
	fh.subs[fh.nextSub] = fn
	return &subscription{f: f, h: fh, id: fh.nextSub}
}

func (f *Fake) Release(h audio.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh := f.handle(h)
	fh.playing = false
	fh.released = true
	fh.subs = make(map[int]audio.PositionFunc)
	delete(f.handles, fh.path)
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// SimulateLoop reports a loop restart on h to every subscriber, synchronously.
func (f *Fake) SimulateLoop(h audio.Handle) {
	f.mu.Lock()
	fh := f.handle(h)
	ids := make([]int, 0, len(fh.subs))
	for id := range fh.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]audio.PositionFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, fh.subs[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(0)
	}
}

func (f *Fake) Plays(h audio.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle(h).plays
}

func (f *Fake) Stops(h audio.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle(h).stops
}

func (f *Fake) LoopMode(h audio.Handle) audio.LoopMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle(h).loop
}

// Subscribers returns the number of live position subscriptions on h.
func (f *Fake) Subscribers(h audio.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handle(h).subs)
}

// Volumes returns every value passed to SetVolume for h, in order.
func (f *Fake) Volumes(h audio.Handle) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.handle(h).volumes...)
}

// Released reports whether Release was called on h.
func (f *Fake) Released(h audio.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle(h).released
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ audio.Backend = (*Fake)(nil)
