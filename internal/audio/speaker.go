package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	DefaultSampleRate = 44100
	DefaultBuffer     = 100 * time.Millisecond
	resampleQuality   = 4
)

// SpeakerOptions configures the system speaker backend.
type SpeakerOptions struct {
	SampleRate int
	Buffer     time.Duration

	// Post runs position callbacks. The speaker goroutine must never block,
	// so callbacks are handed off; the default starts a goroutine.
	Post func(func())
}

// Speaker plays decoded clips through the default output device. Every clip
// is mixed into a single beep mixer owned by the speaker.
type Speaker struct {
	sampleRate beep.SampleRate
	mixer      *beep.Mixer
	post       func(func())

	mu     sync.Mutex
	closed bool
}

// NewSpeaker initializes the output device. Only one Speaker may exist per process.
func NewSpeaker(opts SpeakerOptions) (*Speaker, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Post == nil {
		opts.Post = func(fn func()) { go fn() }
	}

	sr := beep.SampleRate(opts.SampleRate)
	if err := speaker.Init(sr, sr.N(opts.Buffer)); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}

	s := &Speaker{
		sampleRate: sr,
		mixer:      &beep.Mixer{},
		post:       opts.Post,
	}
	speaker.Play(s.mixer)
	return s, nil
}

// clip is the Handle returned by Speaker.Load. Fields below subMu are
// guarded by the speaker lock because the audio goroutine reads them.
type clip struct {
	owner *Speaker
	path  string
	buf   *beep.Buffer

	subMu   sync.Mutex
	subs    map[int]PositionFunc
	nextSub int

	volume   float64
	loop     LoopMode
	voice    *voice
	released bool
}

func (c *clip) Path() string { return c.path }

func (c *clip) restarted() {
	c.owner.post(func() { c.notify(0) })
}

func (c *clip) notify(pos time.Duration) {
	c.subMu.Lock()
	fns := make([]PositionFunc, 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(pos)
	}
}

// voice is one playback of a clip. It ends when stopped or, in LoopOnce
// mode, when the buffer runs out.
type voice struct {
	c    *clip
	src  beep.StreamSeeker
	gain *effects.Gain
	done bool
}

func (v *voice) Stream(samples [][2]float64) (int, bool) {
	if v.done {
		return 0, false
	}
	filled := 0
	for filled < len(samples) {
		n, ok := v.src.Stream(samples[filled:])
		filled += n
		if ok && n > 0 {
			continue
		}
		if v.c.loop != LoopInfinite {
			v.finish()
			return filled, filled > 0
		}
		if err := v.src.Seek(0); err != nil {
			v.finish()
			return filled, filled > 0
		}
		v.c.restarted()
	}
	return filled, true
}

func (v *voice) Err() error { return nil }

func (v *voice) finish() {
	v.done = true
	if v.c.voice == v {
		v.c.voice = nil
	}
}

type subscription struct {
	c  *clip
	id int
}

func (s *subscription) Cancel() {
	s.c.subMu.Lock()
	delete(s.c.subs, s.id)
	s.c.subMu.Unlock()
}

func (s *Speaker) Load(path string) (Handle, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	buf, err := decodeBuffered(path)
	if err != nil {
		return nil, err
	}
	return &clip{
		owner:  s,
		path:   path,
		buf:    buf,
		subs:   make(map[int]PositionFunc),
		volume: 1,
	}, nil
}

func (s *Speaker) clipFor(h Handle) (*clip, error) {
	c, ok := h.(*clip)
	if !ok || c.owner != s {
		return nil, ErrForeignHandle
	}
	speaker.Lock()
	released := c.released
	speaker.Unlock()
	if released {
		return nil, ErrForeignHandle
	}
	return c, nil
}

// Play starts h from the beginning. Playing an already playing handle is a no-op.
func (s *Speaker) Play(h Handle) error {
	c, err := s.clipFor(h)
	if err != nil {
		return err
	}

	speaker.Lock()
	defer speaker.Unlock()

	if c.voice != nil {
		return nil
	}

	v := &voice{c: c, src: c.buf.Streamer(0, c.buf.Len())}
	var out beep.Streamer = v
	if rate := c.buf.Format().SampleRate; rate != s.sampleRate {
		out = beep.Resample(resampleQuality, rate, s.sampleRate, v)
	}
	v.gain = &effects.Gain{Streamer: out, Gain: c.volume - 1}
	c.voice = v
	s.mixer.Add(v.gain)
	return nil
}

func (s *Speaker) Stop(h Handle) error {
	c, err := s.clipFor(h)
	if err != nil {
		return err
	}

	speaker.Lock()
	if c.voice != nil {
		c.voice.finish()
	}
	speaker.Unlock()
	return nil
}

func (s *Speaker) IsPlaying(h Handle) bool {
	c, err := s.clipFor(h)
	if err != nil {
		return false
	}
	speaker.Lock()
	defer speaker.Unlock()
	return c.voice != nil
}

// SetVolume applies a linear gain in [0, 1], also to a voice already playing.
func (s *Speaker) SetVolume(h Handle, v float64) {
	c, err := s.clipFor(h)
	if err != nil {
		return
	}
	speaker.Lock()
	c.volume = ClampVolume(v)
	if c.voice != nil {
		c.voice.gain.Gain = c.volume - 1
	}
	speaker.Unlock()
}

func (s *Speaker) Volume(h Handle) float64 {
	c, err := s.clipFor(h)
	if err != nil {
		return 0
	}
	speaker.Lock()
	defer speaker.Unlock()
	return c.volume
}

func (s *Speaker) SetLoopMode(h Handle, m LoopMode) {
	c, err := s.clipFor(h)
	if err != nil {
		return
	}
	speaker.Lock()
	c.loop = m
	speaker.Unlock()
}

func (s *Speaker) OnPosition(h Handle, fn PositionFunc) Subscription {
	c, err := s.clipFor(h)
	if err != nil {
		return noopSubscription{}
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	c.subs[c.nextSub] = fn
	return &subscription{c: c, id: c.nextSub}
}

// Release stops h and frees its buffer. Later calls with h report ErrForeignHandle.
func (s *Speaker) Release(h Handle) error {
	c, err := s.clipFor(h)
	if err != nil {
		return err
	}

	speaker.Lock()
	if c.voice != nil {
		c.voice.finish()
	}
	c.released = true
	c.buf = nil
	speaker.Unlock()

	c.subMu.Lock()
	c.subs = make(map[int]PositionFunc)
	c.subMu.Unlock()
	return nil
}

// Close silences every clip and releases the output device.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	speaker.Lock()
	s.mixer.Clear()
	speaker.Unlock()
	speaker.Close()
	return nil
}

type noopSubscription struct{}

func (noopSubscription) Cancel() {}
