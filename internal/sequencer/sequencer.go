// Package sequencer walks the scenes of an ObjectMap in response to operator
// commands, starting and stopping sounds, showing art and following cues.
//
// A Sequencer is not safe for concurrent use. Every method, and every
// callback it registers with the audio backend, must run on one goroutine.
package sequencer

import (
	"errors"
	"time"

	"github.com/AaronLay10/soundstage/internal/audio"
	"github.com/AaronLay10/soundstage/internal/events"
	"github.com/AaronLay10/soundstage/internal/resources"
	"github.com/AaronLay10/soundstage/internal/script"
)

// State is the sequencer's coarse playback state.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Registry resolves the ids a scene refers to.
type Registry interface {
	Sound(id string) (*resources.Sound, error)
	ArtPath(id string) (string, error)
	SoundIDs() []string
}

// Player is the part of the audio backend the sequencer drives.
type Player interface {
	Play(h audio.Handle) error
	Stop(h audio.Handle) error
	IsPlaying(h audio.Handle) bool
	SetVolume(h audio.Handle, v float64)
	SetLoopMode(h audio.Handle, m audio.LoopMode)
	OnPosition(h audio.Handle, fn audio.PositionFunc) audio.Subscription
}

// Fader ramps volumes. See fade.Controller.
type Fader interface {
	FadeIn(h audio.Handle, target float64, dur time.Duration)
	FadeOut(h audio.Handle, dur time.Duration, stop func())
	Cancel(h audio.Handle) bool
}

type slot struct {
	scene string
	index int
}

type loopSub struct {
	sub      audio.Subscription
	handle   audio.Handle
	objectID string
}

// Sequencer tracks the current (scene, index) and dispatches scene objects.
type Sequencer struct {
	m      *script.ObjectMap
	reg    Registry
	player Player
	fades  Fader
	em     events.Emitter

	state State
	scene string
	index int

	loops    map[slot]*loopSub
	byHandle map[audio.Handle]slot
}

// New builds an idle sequencer over a validated map. em may be nil.
func New(m *script.ObjectMap, reg Registry, player Player, fades Fader, em events.Emitter) *Sequencer {
	if em == nil {
		em = nopEmitter{}
	}
	return &Sequencer{
		m:        m,
		reg:      reg,
		player:   player,
		fades:    fades,
		em:       em,
		loops:    make(map[slot]*loopSub),
		byHandle: make(map[audio.Handle]slot),
	}
}

// op tracks one top-level Start, PlayScene or Step so cue chains and
// auto-steps can be bounded.
type op struct {
	entered    map[string]bool
	chain      []string
	dispatched map[slot]bool
}

func newOp() *op {
	return &op{entered: make(map[string]bool), dispatched: make(map[slot]bool)}
}

// Start begins playback at sceneID.
func (s *Sequencer) Start(sceneID string) error {
	return s.PlayScene(sceneID)
}

// PlayScene jumps to index 0 of sceneID and dispatches it. Objects of the
// scene being left are not stop-checked, so their sounds keep playing, but
// their loop subscriptions are dropped.
func (s *Sequencer) PlayScene(sceneID string) error {
	o := newOp()
	if err := s.enter(o, sceneID); err != nil {
		return err
	}
	return s.run(o)
}

// Step stop-checks the current object, advances and dispatches the next one.
func (s *Sequencer) Step() error {
	if s.state != Active {
		return ErrInvalidState
	}
	s.stopCheck(slot{s.scene, s.index})
	s.index++
	return s.run(newOp())
}

// Stop silences every sound, drops every loop subscription and returns to Idle.
func (s *Sequencer) Stop() {
	for sl := range s.loops {
		s.clearLoop(sl)
	}
	for _, id := range s.reg.SoundIDs() {
		snd, err := s.reg.Sound(id)
		if err != nil {
			continue
		}
		s.fades.Cancel(snd.Handle)
		if s.player.IsPlaying(snd.Handle) {
			s.stopNow(id, snd.Handle)
		}
	}
	if s.state == Active {
		s.em.Emit("info", "scene.stopped", "sequencer stopped", map[string]interface{}{
			"scene_id": s.scene,
			"index":    s.index,
		})
	}
	s.idle()
}

// State reports Idle or Active.
func (s *Sequencer) State() State { return s.state }

// Current returns the active scene and index. ok is false when idle.
func (s *Sequencer) Current() (scene string, index int, ok bool) {
	if s.state != Active {
		return "", 0, false
	}
	return s.scene, s.index, true
}

// CurrentObjectID returns the id of the current scene object, if any.
func (s *Sequencer) CurrentObjectID() (string, bool) {
	if s.state != Active {
		return "", false
	}
	obj, ok := s.object(slot{s.scene, s.index})
	if !ok {
		return "", false
	}
	return obj.ObjectID(), true
}

// LoopCount returns the number of live loop subscriptions.
func (s *Sequencer) LoopCount() int { return len(s.loops) }

func (s *Sequencer) object(sl slot) (script.SceneObject, bool) {
	objs, ok := s.m.Scene(sl.scene)
	if !ok || sl.index < 0 || sl.index >= len(objs) {
		return nil, false
	}
	return objs[sl.index], true
}

func (s *Sequencer) idle() {
	s.state = Idle
	s.scene = ""
	s.index = 0
}

// enter makes sceneID current at index 0 without dispatching anything.
func (s *Sequencer) enter(o *op, sceneID string) error {
	if !s.m.HasScene(sceneID) {
		s.em.Emit("warn", "resource.missing", "scene not found", map[string]interface{}{
			"kind": "scene",
			"id":   sceneID,
		})
		return &resources.MissingResourceError{Kind: "scene", ID: sceneID}
	}
	if o.entered[sceneID] {
		chain := append(append([]string(nil), o.chain...), sceneID)
		s.em.Emit("warn", "cue.cycle", "cue chain loops back on itself", map[string]interface{}{
			"chain": chain,
		})
		return &CueCycleError{Chain: chain}
	}
	o.entered[sceneID] = true
	o.chain = append(o.chain, sceneID)

	// loop subscriptions belong to the position being left
	for sl := range s.loops {
		s.clearLoop(sl)
	}

	s.state = Active
	s.scene = sceneID
	s.index = 0
	s.em.Emit("info", "scene.started", "", map[string]interface{}{"scene_id": sceneID})
	return nil
}

// run dispatches the current object and keeps going while objects ask to
// step on or cue elsewhere.
func (s *Sequencer) run(o *op) error {
	for {
		objs, _ := s.m.Scene(s.scene)
		if s.index >= len(objs) {
			if !s.m.GlobalOptions.LoopScenes || len(objs) == 0 {
				s.em.Emit("info", "scene.exhausted", "reached end of scene", map[string]interface{}{
					"scene_id": s.scene,
				})
				s.idle()
				return nil
			}
			s.index = 0
			s.em.Emit("info", "scene.wrapped", "", map[string]interface{}{"scene_id": s.scene})
		}

		sl := slot{s.scene, s.index}
		if o.dispatched[sl] {
			// an auto-step chain came all the way around a looping scene
			return nil
		}
		o.dispatched[sl] = true

		var advance bool
		switch obj := objs[s.index].(type) {
		case *script.Cue:
			s.em.Emit("info", "cue.jump", "", map[string]interface{}{
				"scene_id":  sl.scene,
				"object_id": obj.ID,
				"target":    obj.Payload,
			})
			if err := s.enter(o, obj.Payload); err != nil {
				var cycle *CueCycleError
				if errors.As(err, &cycle) {
					return err
				}
				return nil
			}
			continue
		case *script.Sound:
			advance = s.playSound(sl, obj) && obj.Step
		case *script.Art:
			advance = s.showArt(sl, obj) && obj.Step
		case *script.Unknown:
			s.em.Emit("warn", "dispatch.unknown", "unknown scene object type", map[string]interface{}{
				"scene_id":  sl.scene,
				"index":     sl.index,
				"object_id": obj.ID,
				"type":      obj.Type,
			})
		}

		if !advance {
			return nil
		}
		s.stopCheck(sl)
		s.index++
	}
}

func (s *Sequencer) playSound(sl slot, obj *script.Sound) bool {
	snd, err := s.reg.Sound(obj.Payload)
	if err != nil {
		s.missing(sl, "sound", obj.Payload)
		return false
	}
	h := snd.Handle

	if prev, ok := s.byHandle[h]; ok {
		s.clearLoop(prev)
	}

	if obj.Loop {
		s.player.SetLoopMode(h, audio.LoopInfinite)
		entry := &loopSub{handle: h, objectID: obj.ID}
		entry.sub = s.player.OnPosition(h, func(pos time.Duration) {
			if pos != 0 || s.loops[sl] != entry {
				return
			}
			s.em.Emit("info", "sound.looped", "", map[string]interface{}{
				"scene_id":  sl.scene,
				"object_id": entry.objectID,
			})
		})
		s.loops[sl] = entry
		s.byHandle[h] = sl
	} else {
		s.player.SetLoopMode(h, audio.LoopOnce)
	}

	if obj.FadeIn > 0 {
		s.fades.FadeIn(h, snd.Volume, obj.FadeIn)
	} else {
		s.fades.Cancel(h)
		s.player.SetVolume(h, snd.Volume)
	}
	if err := s.player.Play(h); err != nil {
		s.em.Emit("error", "system.error", "failed to play sound", map[string]interface{}{
			"sound_id": obj.Payload,
			"error":    err.Error(),
		})
		return false
	}

	s.em.Emit("info", "sound.played", "", map[string]interface{}{
		"scene_id":  sl.scene,
		"index":     sl.index,
		"object_id": obj.ID,
		"sound_id":  obj.Payload,
		"loop":      obj.Loop,
		"fadein_ms": obj.FadeIn.Milliseconds(),
	})
	return true
}

func (s *Sequencer) showArt(sl slot, obj *script.Art) bool {
	path, err := s.reg.ArtPath(obj.Payload)
	if err != nil {
		s.em.Emit("warn", "art.missing", "art not found", map[string]interface{}{
			"scene_id":  sl.scene,
			"index":     sl.index,
			"object_id": obj.ID,
			"art_id":    obj.Payload,
			"error":     err.Error(),
		})
		return false
	}

	s.em.Emit("info", "art.show", "", map[string]interface{}{
		"scene_id":  sl.scene,
		"object_id": obj.ID,
		"art_id":    obj.Payload,
		"path":      path,
		"scale":     obj.Scale,
	})
	return true
}

// stopCheck drops the loop subscription of sl and stops its sound unless it
// is retained. The subscription goes first so no notification is attributed
// to a slot that is being left.
func (s *Sequencer) stopCheck(sl slot) {
	s.clearLoop(sl)

	obj, ok := s.object(sl)
	if !ok {
		return
	}
	snd, ok := obj.(*script.Sound)
	if !ok || snd.Retain {
		return
	}
	res, err := s.reg.Sound(snd.Payload)
	if err != nil {
		return
	}

	h := res.Handle
	if snd.FadeOut > 0 {
		s.fades.FadeOut(h, snd.FadeOut, func() { s.stopNow(snd.Payload, h) })
		return
	}
	s.fades.Cancel(h)
	s.stopNow(snd.Payload, h)
}

func (s *Sequencer) stopNow(soundID string, h audio.Handle) {
	if err := s.player.Stop(h); err != nil {
		s.em.Emit("error", "system.error", "failed to stop sound", map[string]interface{}{
			"sound_id": soundID,
			"error":    err.Error(),
		})
		return
	}
	s.em.Emit("info", "sound.stopped", "", map[string]interface{}{"sound_id": soundID})
}

func (s *Sequencer) clearLoop(sl slot) {
	entry, ok := s.loops[sl]
	if !ok {
		return
	}
	entry.sub.Cancel()
	delete(s.loops, sl)
	if s.byHandle[entry.handle] == sl {
		delete(s.byHandle, entry.handle)
	}
	s.em.Emit("info", "loop.cleared", "", map[string]interface{}{
		"scene_id":  sl.scene,
		"object_id": entry.objectID,
	})
}

func (s *Sequencer) missing(sl slot, kind, id string) {
	s.em.Emit("warn", "resource.missing", kind+" not found", map[string]interface{}{
		"kind":     kind,
		"id":       id,
		"scene_id": sl.scene,
		"index":    sl.index,
	})
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, string, string, map[string]interface{}) ([]byte, error) {
	return nil, nil
}
