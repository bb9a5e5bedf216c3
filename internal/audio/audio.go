// Package audio defines the playback backend the sequencer drives and a
// speaker implementation built on beep.
package audio

import (
	"errors"
	"time"
)

// LoopMode selects whether a handle plays once or repeats until stopped.
type LoopMode int

const (
	LoopOnce LoopMode = iota
	LoopInfinite
)

func (m LoopMode) String() string {
	switch m {
	case LoopOnce:
		return "once"
	case LoopInfinite:
		return "infinite"
	default:
		return "unknown"
	}
}

// Handle is a loaded, playable sound. Handles are created once by Load and
// stay valid until released or until the backend is closed.
type Handle interface {
	Path() string
}

// PositionFunc receives playback position changes. A looping handle reports
// position zero each time it restarts.
type PositionFunc func(pos time.Duration)

// Subscription is a registered PositionFunc. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// Backend is the audio device seen by the sequencer. Only the owner of a
// handle may start, stop or reconfigure it.
type Backend interface {
	Load(path string) (Handle, error)
	Play(h Handle) error
	Stop(h Handle) error
	IsPlaying(h Handle) bool
	SetVolume(h Handle, v float64)
	Volume(h Handle) float64
	SetLoopMode(h Handle, m LoopMode)
	OnPosition(h Handle, fn PositionFunc) Subscription
	// Release stops h, drops its subscriptions and frees its decoded data.
	// h must not be used afterwards.
	Release(h Handle) error
	Close() error
}

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrForeignHandle     = errors.New("handle does not belong to this backend")
	ErrClosed            = errors.New("audio backend closed")
)

// ClampVolume limits v to [0, 1].
func ClampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
