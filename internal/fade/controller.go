// Package fade runs linear volume ramps, at most one per audio handle.
//
// A Controller belongs to a single goroutine: Fade, Cancel and Tick must all
// be called from it. Run drives Tick from a timer by posting onto that goroutine.
package fade

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/soundstage/internal/audio"
	"github.com/AaronLay10/soundstage/internal/events"
)

const (
	// Floor is the starting level of a fade-in. Ramping from silence pops.
	Floor = 0.01

	DefaultInterval = 20 * time.Millisecond
)

// Volumer is the part of the audio backend a fade touches.
type Volumer interface {
	SetVolume(h audio.Handle, v float64)
	Volume(h audio.Handle) float64
}

// CompleteFunc is called once per fade. interrupted is true when a newer fade
// or Cancel replaced the ramp; last is the volume it reached.
type CompleteFunc func(last float64, interrupted bool)

type ramp struct {
	from, to   float64
	start      time.Time
	dur        time.Duration
	onComplete CompleteFunc
}

func (r *ramp) at(now time.Time) float64 {
	elapsed := now.Sub(r.start)
	if elapsed >= r.dur {
		return r.to
	}
	if elapsed <= 0 {
		return r.from
	}
	frac := float64(elapsed) / float64(r.dur)
	return r.from + (r.to-r.from)*frac
}

func (r *ramp) done(now time.Time) bool {
	return now.Sub(r.start) >= r.dur
}

type Controller struct {
	volumes  Volumer
	em       events.Emitter
	now      func() time.Time
	interval time.Duration

	ramps  map[audio.Handle]*ramp
	active atomic.Int32
}

type Option func(*Controller)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithInterval sets how often Run advances ramps.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// New creates a Controller. em may be nil.
func New(volumes Volumer, em events.Emitter, opts ...Option) *Controller {
	c := &Controller{
		volumes:  volumes,
		em:       em,
		now:      time.Now,
		interval: DefaultInterval,
		ramps:    make(map[audio.Handle]*ramp),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fade ramps h linearly from from to to over dur. If h already has a ramp in
// flight, that ramp is cancelled first: its onComplete runs with the value it
// reached and interrupted=true, and the new ramp starts from that value
// instead of from. A non-positive dur applies to at once.
func (c *Controller) Fade(h audio.Handle, from, to float64, dur time.Duration, onComplete CompleteFunc) {
	from, to = audio.ClampVolume(from), audio.ClampVolume(to)
	now := c.now()

	if last, ok := c.cancel(h, now); ok {
		from = last
	}

	if dur <= 0 {
		c.volumes.SetVolume(h, to)
		if onComplete != nil {
			onComplete(to, false)
		}
		return
	}

	c.volumes.SetVolume(h, from)
	c.ramps[h] = &ramp{from: from, to: to, start: now, dur: dur, onComplete: onComplete}
	c.active.Store(int32(len(c.ramps)))
	c.emit("fade.started", h, map[string]interface{}{
		"from":        from,
		"to":          to,
		"duration_ms": dur.Milliseconds(),
	})
}

// FadeIn ramps h from Floor up to target.
func (c *Controller) FadeIn(h audio.Handle, target float64, dur time.Duration) {
	c.Fade(h, Floor, target, dur, nil)
}

// FadeOut ramps h from its current volume to zero and calls stop once the
// ramp has finished. An interrupted fade-out never calls stop.
func (c *Controller) FadeOut(h audio.Handle, dur time.Duration, stop func()) {
	c.Fade(h, c.volumes.Volume(h), 0, dur, func(_ float64, interrupted bool) {
		if !interrupted && stop != nil {
			stop()
		}
	})
}

// Cancel stops the ramp on h where it is. It reports whether one was running.
func (c *Controller) Cancel(h audio.Handle) bool {
	_, ok := c.cancel(h, c.now())
	return ok
}

func (c *Controller) cancel(h audio.Handle, now time.Time) (float64, bool) {
	r, ok := c.ramps[h]
	if !ok {
		return 0, false
	}
	delete(c.ramps, h)
	c.active.Store(int32(len(c.ramps)))

	last := r.at(now)
	c.volumes.SetVolume(h, last)
	c.emit("fade.cancelled", h, map[string]interface{}{"at": last})
	if r.onComplete != nil {
		r.onComplete(last, true)
	}
	return last, true
}

// Active reports whether h has a ramp in flight.
func (c *Controller) Active(h audio.Handle) bool {
	_, ok := c.ramps[h]
	return ok
}

// Pending returns the number of ramps in flight.
func (c *Controller) Pending() int {
	return len(c.ramps)
}

// Tick applies every ramp's value at now and completes the ones that have run out.
func (c *Controller) Tick(now time.Time) {
	var finished []audio.Handle
	for h, r := range c.ramps {
		c.volumes.SetVolume(h, r.at(now))
		if r.done(now) {
			finished = append(finished, h)
		}
	}

	// callbacks may start new fades, so the map is settled first
	completed := make([]*ramp, 0, len(finished))
	for _, h := range finished {
		completed = append(completed, c.ramps[h])
		delete(c.ramps, h)
	}
	c.active.Store(int32(len(c.ramps)))

	for i, r := range completed {
		c.emit("fade.completed", finished[i], map[string]interface{}{"to": r.to})
		if r.onComplete != nil {
			r.onComplete(r.to, false)
		}
	}
}

// Run posts Tick to the owning goroutine every interval while ramps are in
// flight. It returns when ctx is done.
func (c *Controller) Run(ctx context.Context, post func(func())) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.active.Load() == 0 {
				continue
			}
			post(func() { c.Tick(c.now()) })
		}
	}
}

func (c *Controller) emit(name string, h audio.Handle, fields map[string]interface{}) {
	if c.em == nil {
		return
	}
	fields["path"] = h.Path()
	c.em.Emit("debug", name, "", fields)
}
