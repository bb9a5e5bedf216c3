// Package session runs the sequencer on its own goroutine and lets the
// operator surfaces talk to it safely.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AaronLay10/soundstage/internal/events"
	"github.com/AaronLay10/soundstage/internal/fade"
	"github.com/AaronLay10/soundstage/internal/sequencer"
)

const DefaultQueue = 256

// MaxOverflow bounds the work Post holds back while the queue is full.
const MaxOverflow = 1024

var ErrStopped = errors.New("session stopped")

// Status is a snapshot of where the sequencer is.
type Status struct {
	State    string `json:"state"`
	SceneID  string `json:"scene_id,omitempty"`
	Index    int    `json:"index"`
	ObjectID string `json:"object_id,omitempty"`
}

// Runner owns a Sequencer and its fade Controller. Everything that touches
// them, including fade ticks and loop notifications, goes through Post and
// runs on the Run goroutine.
type Runner struct {
	seq   *sequencer.Sequencer
	fades *fade.Controller
	em    events.Emitter

	ops  chan func()
	done chan struct{}

	mu       sync.Mutex
	overflow []func()
	dropped  int
	wake     chan struct{}
}

func New(seq *sequencer.Sequencer, fades *fade.Controller, em events.Emitter) *Runner {
	return &Runner{
		seq:   seq,
		fades: fades,
		em:    em,
		ops:   make(chan func(), DefaultQueue),
		done:  make(chan struct{}),
		wake:  make(chan struct{}, 1),
	}
}

// Post queues fn for the Run goroutine. It never blocks the caller, so it is
// safe to use from the audio callback. While the queue is full, posts wait in
// an overflow list in order; past MaxOverflow they are dropped.
func (r *Runner) Post(fn func()) {
	r.mu.Lock()
	if len(r.overflow) == 0 {
		select {
		case r.ops <- fn:
			r.mu.Unlock()
			return
		case <-r.done:
			r.mu.Unlock()
			return
		default:
		}
	}
	if len(r.overflow) >= MaxOverflow {
		r.dropped++
		first := r.dropped == 1
		r.mu.Unlock()
		if first && r.em != nil {
			r.em.Emit("warn", "system.error", "session queue overflow, dropping work", map[string]interface{}{
				"queue":    DefaultQueue,
				"overflow": MaxOverflow,
			})
		}
		return
	}
	r.overflow = append(r.overflow, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// drainOverflow runs everything already queued, then the overflow, so work
// keeps the order it was posted in.
func (r *Runner) drainOverflow() {
	for drained := false; !drained; {
		select {
		case fn := <-r.ops:
			fn()
		default:
			drained = true
		}
	}

	r.mu.Lock()
	pending := r.overflow
	r.overflow = nil
	r.dropped = 0
	r.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// Run processes posted work until ctx is done, then stops every sound.
func (r *Runner) Run(ctx context.Context) {
	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.fades.Run(tickCtx, r.Post)

	for {
		select {
		case <-ctx.Done():
			close(r.done)
			r.seq.Stop()
			return
		case fn := <-r.ops:
			fn()
		case <-r.wake:
			r.drainOverflow()
		}
	}
}

// do runs fn on the Run goroutine and waits for its result.
func (r *Runner) do(ctx context.Context, fn func(*sequencer.Sequencer) error) error {
	result := make(chan error, 1)
	job := func() { result <- fn(r.seq) }

	select {
	case r.ops <- job:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start plays sceneID from the top.
func (r *Runner) Start(ctx context.Context, sceneID string) error {
	return r.do(ctx, func(seq *sequencer.Sequencer) error {
		r.emit("operator.start", map[string]interface{}{"scene_id": sceneID})
		if err := seq.Start(sceneID); err != nil {
			return fmt.Errorf("start %s: %w", sceneID, err)
		}
		return nil
	})
}

// Step advances the sequencer and records the transition.
func (r *Runner) Step(ctx context.Context) error {
	return r.do(ctx, func(seq *sequencer.Sequencer) error {
		from := status(seq)
		err := seq.Step()
		to := status(seq)
		r.emit("operator.step", map[string]interface{}{
			"from_scene":  from.SceneID,
			"from_object": from.ObjectID,
			"to_scene":    to.SceneID,
			"to_object":   to.ObjectID,
		})
		return err
	})
}

// Jump plays sceneID without stop-checking the current object.
func (r *Runner) Jump(ctx context.Context, sceneID string) error {
	return r.do(ctx, func(seq *sequencer.Sequencer) error {
		r.emit("operator.jump", map[string]interface{}{"scene_id": sceneID})
		return seq.PlayScene(sceneID)
	})
}

// Status returns the sequencer position.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	var st Status
	err := r.do(ctx, func(seq *sequencer.Sequencer) error {
		st = status(seq)
		return nil
	})
	return st, err
}

func status(seq *sequencer.Sequencer) Status {
	st := Status{State: seq.State().String()}
	if scene, index, ok := seq.Current(); ok {
		st.SceneID = scene
		st.Index = index
		st.ObjectID, _ = seq.CurrentObjectID()
	}
	return st
}

func (r *Runner) emit(name string, fields map[string]interface{}) {
	if r.em != nil {
		r.em.Emit("info", name, "", fields)
	}
}
