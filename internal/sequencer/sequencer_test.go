package sequencer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/AaronLay10/soundstage/internal/audio"
	"github.com/AaronLay10/soundstage/internal/audio/audiotest"
	"github.com/AaronLay10/soundstage/internal/events"
	"github.com/AaronLay10/soundstage/internal/fade"
	"github.com/AaronLay10/soundstage/internal/resources"
	"github.com/AaronLay10/soundstage/internal/script"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	t       *testing.T
	seq     *Sequencer
	backend *audiotest.Fake
	reg     *resources.Registry
	fades   *fade.Controller
	bus     *events.Bus
	clk     *clock
}

// newHarness loads m with a fake backend. Every declared art id gets a file
// on disk except those listed in missingArt.
func newHarness(t *testing.T, m *script.ObjectMap, missingArt ...string) *harness {
	t.Helper()

	m.Root = t.TempDir()
	if m.SoundIDs == nil {
		m.SoundIDs = map[string]string{}
	}
	if m.ArtIDs == nil {
		m.ArtIDs = map[string]string{}
	}

	skip := make(map[string]bool)
	for _, id := range missingArt {
		skip[id] = true
	}
	artDir := filepath.Join(m.Root, resources.ArtDir)
	if err := os.MkdirAll(artDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for id, p := range m.ArtIDs {
		if skip[id] {
			continue
		}
		if err := os.WriteFile(filepath.Join(artDir, p), []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	bus := events.NewBus(512)
	backend := audiotest.New()
	reg, err := resources.Load(context.Background(), m, backend, resources.Options{})
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	bus.Clear()

	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	fades := fade.New(backend, bus, fade.WithClock(clk.now))

	return &harness{
		t:       t,
		seq:     New(m, reg, backend, fades, bus),
		backend: backend,
		reg:     reg,
		fades:   fades,
		bus:     bus,
		clk:     clk,
	}
}

func (h *harness) handle(soundID string) audio.Handle {
	h.t.Helper()
	snd, err := h.reg.Sound(soundID)
	if err != nil {
		h.t.Fatalf("no sound %s: %v", soundID, err)
	}
	return snd.Handle
}

func (h *harness) count(name string) int {
	n := 0
	for _, e := range h.bus.Snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (h *harness) last(name string) events.Event {
	h.t.Helper()
	snap := h.bus.Snapshot()
	for i := len(snap) - 1; i >= 0; i-- {
		if snap[i].Name == name {
			return snap[i]
		}
	}
	h.t.Fatalf("no %s event", name)
	return events.Event{}
}

func (h *harness) advance(d time.Duration) {
	h.clk.t = h.clk.t.Add(d)
	h.fades.Tick(h.clk.t)
}

func (h *harness) expectAt(scene string, index int) {
	h.t.Helper()
	gotScene, gotIndex, ok := h.seq.Current()
	if !ok || gotScene != scene || gotIndex != index {
		h.t.Fatalf("expected %s[%d], got %s[%d] (active=%v)", scene, index, gotScene, gotIndex, ok)
	}
}

func sounds(ids ...string) map[string]string {
	m := make(map[string]string, len(ids))
	for _, id := range ids {
		m[id] = id + ".wav"
	}
	return m
}

func TestCueJumpsToTargetScene(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("s1", "s2"),
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Sound{ID: "first", Payload: "s1"},
				&script.Cue{ID: "go b", Payload: "B"},
			},
			"B": {&script.Sound{ID: "second", Payload: "s2"}},
		},
	})

	if err := h.seq.Start("A"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !h.backend.IsPlaying(h.handle("s1")) {
		t.Fatal("expected s1 to play")
	}

	if err := h.seq.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	if h.backend.Stops(h.handle("s1")) != 1 {
		t.Errorf("expected s1 stopped once, got %d", h.backend.Stops(h.handle("s1")))
	}
	if !h.backend.IsPlaying(h.handle("s2")) {
		t.Error("expected s2 to play")
	}
	h.expectAt("B", 0)
	if id, _ := h.seq.CurrentObjectID(); id != "second" {
		t.Errorf("expected current object second, got %s", id)
	}
	if h.count("cue.jump") != 1 {
		t.Errorf("expected one cue.jump, got %d", h.count("cue.jump"))
	}
}

func TestArtAtEndOfSceneExhausts(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		ArtIDs: map[string]string{"map": "map.png"},
		Scenes: map[string][]script.SceneObject{
			"C": {&script.Art{ID: "show map", Payload: "map", Scale: 1, Step: true}},
		},
	})

	if err := h.seq.Start("C"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	show := h.last("art.show")
	if show.Fields["art_id"] != "map" || show.Fields["scale"] != 1.0 {
		t.Errorf("unexpected art.show fields %v", show.Fields)
	}
	if h.seq.State() != Idle {
		t.Errorf("expected idle after exhausting scene, got %s", h.seq.State())
	}
	if h.count("scene.exhausted") != 1 {
		t.Errorf("expected one scene.exhausted, got %d", h.count("scene.exhausted"))
	}
	if err := h.seq.Step(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after exhaustion, got %v", err)
	}
}

func TestStepBeforeStartIsInvalid(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{Scenes: map[string][]script.SceneObject{"A": {}}})

	if err := h.seq.Step(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestLoopNotificationsFollowCurrentObject(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("rain"),
		ArtIDs:   map[string]string{"map": "map.png"},
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Sound{ID: "storm", Payload: "rain", Loop: true},
				&script.Art{ID: "map", Payload: "map", Scale: 1},
			},
		},
	})
	rain := h.handle("rain")

	if err := h.seq.Start("A"); err != nil {
		t.Fatal(err)
	}
	if h.backend.LoopMode(rain) != audio.LoopInfinite {
		t.Error("expected infinite loop mode")
	}

	for i := 0; i < 3; i++ {
		h.backend.SimulateLoop(rain)
	}
	if got := h.count("sound.looped"); got != 3 {
		t.Fatalf("expected 3 looped events, got %d", got)
	}
	looped := h.last("sound.looped")
	if looped.Fields["scene_id"] != "A" || looped.Fields["object_id"] != "storm" {
		t.Errorf("unexpected looped fields %v", looped.Fields)
	}

	if err := h.seq.Step(); err != nil {
		t.Fatal(err)
	}
	if h.backend.Subscribers(rain) != 0 || h.seq.LoopCount() != 0 {
		t.Error("expected loop subscription removed")
	}
	if h.count("loop.cleared") != 1 {
		t.Errorf("expected one loop.cleared, got %d", h.count("loop.cleared"))
	}

	h.backend.SimulateLoop(rain)
	h.backend.SimulateLoop(rain)
	if got := h.count("sound.looped"); got != 3 {
		t.Errorf("expected no looped events after stepping past, got %d", got)
	}
}

func TestStopCheckIssuesExactlyOneStop(t *testing.T) {
	tests := []struct {
		name    string
		fadeOut time.Duration
	}{
		{"immediate", 0},
		{"faded", 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &script.ObjectMap{
				SoundIDs: sounds("wind", "bell"),
				Scenes: map[string][]script.SceneObject{
					"A": {
						&script.Sound{ID: "wind", Payload: "wind", Loop: true, FadeOut: tt.fadeOut},
						&script.Sound{ID: "bell", Payload: "bell"},
					},
				},
			})
			wind := h.handle("wind")

			if err := h.seq.Start("A"); err != nil {
				t.Fatal(err)
			}
			if err := h.seq.Step(); err != nil {
				t.Fatal(err)
			}

			// subscription is gone before the index moved, even while fading
			if h.backend.Subscribers(wind) != 0 {
				t.Error("expected loop subscription removed on step")
			}
			h.expectAt("A", 1)

			if tt.fadeOut > 0 {
				if h.backend.Stops(wind) != 0 {
					t.Fatal("stop must wait for the fade-out")
				}
				h.advance(tt.fadeOut / 2)
				if h.backend.Stops(wind) != 0 {
					t.Fatal("stop called mid fade-out")
				}
				h.advance(tt.fadeOut)
			}

			if got := h.backend.Stops(wind); got != 1 {
				t.Errorf("expected exactly one stop, got %d", got)
			}
			h.advance(time.Second)
			if got := h.backend.Stops(wind); got != 1 {
				t.Errorf("expected still one stop, got %d", got)
			}
		})
	}
}

func TestRetainedSoundKeepsPlaying(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("bed", "bell"),
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Sound{ID: "bed", Payload: "bed", Retain: true},
				&script.Sound{ID: "bell", Payload: "bell"},
			},
		},
	})

	h.seq.Start("A")
	h.seq.Step()

	if h.backend.Stops(h.handle("bed")) != 0 || !h.backend.IsPlaying(h.handle("bed")) {
		t.Error("expected retained sound to keep playing")
	}
}

func TestUnknownTypeIsNoOp(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("s1"),
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Unknown{ID: "clip", Type: "video", Payload: "intro"},
				&script.Sound{ID: "s1", Payload: "s1"},
			},
		},
	})

	if err := h.seq.Start("A"); err != nil {
		t.Fatalf("unknown type must not fail: %v", err)
	}
	h.expectAt("A", 0)
	if h.backend.Plays(h.handle("s1")) != 0 {
		t.Error("expected no playback")
	}
	if h.count("dispatch.unknown") != 1 {
		t.Errorf("expected one dispatch.unknown, got %d", h.count("dispatch.unknown"))
	}

	if err := h.seq.Step(); err != nil {
		t.Fatal(err)
	}
	if !h.backend.IsPlaying(h.handle("s1")) {
		t.Error("expected the operator to be able to step past the unknown object")
	}
}

func TestMissingResourcesAreNoOps(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		ArtIDs: map[string]string{"lost": "lost.png"},
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Sound{ID: "ghost", Payload: "undeclared"},
				&script.Art{ID: "lost", Payload: "lost", Scale: 1, Step: true},
				&script.Art{ID: "never", Payload: "lost", Scale: 1, Step: true},
			},
		},
	}, "lost")

	if err := h.seq.Start("A"); err != nil {
		t.Fatalf("missing sound must not fail: %v", err)
	}
	h.expectAt("A", 0)
	if h.count("resource.missing") != 1 {
		t.Errorf("expected resource.missing, got %d", h.count("resource.missing"))
	}

	if err := h.seq.Step(); err != nil {
		t.Fatalf("missing art must not fail: %v", err)
	}
	// the art did not show, so its auto-step did not happen either
	h.expectAt("A", 1)
	if h.count("art.missing") != 1 || h.count("art.show") != 0 {
		t.Errorf("expected art.missing and no art.show")
	}
}

func TestCueCycleIsReported(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		Scenes: map[string][]script.SceneObject{
			"A": {&script.Cue{ID: "to b", Payload: "B"}},
			"B": {&script.Cue{ID: "to a", Payload: "A"}},
		},
	})

	err := h.seq.Start("A")

	var cycle *CueCycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected *CueCycleError, got %v", err)
	}
	if !reflect.DeepEqual(cycle.Chain, []string{"A", "B", "A"}) {
		t.Errorf("unexpected chain %v", cycle.Chain)
	}
	h.expectAt("B", 0)
	if h.count("cue.cycle") != 1 {
		t.Errorf("expected one cue.cycle event, got %d", h.count("cue.cycle"))
	}
}

func TestCueBackToOwnSceneRestartsIt(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("s1"),
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Sound{ID: "s1", Payload: "s1"},
				&script.Cue{ID: "again", Payload: "A"},
			},
		},
	})

	h.seq.Start("A")
	if err := h.seq.Step(); err != nil {
		t.Fatalf("a cue back to the scene being stepped is not a cycle: %v", err)
	}
	h.expectAt("A", 0)
	if got := h.backend.Plays(h.handle("s1")); got != 2 {
		t.Errorf("expected s1 played twice, got %d", got)
	}
}

func TestCueToUnknownSceneIsNoOp(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		Scenes: map[string][]script.SceneObject{
			"A": {&script.Cue{ID: "nowhere", Payload: "Z"}},
		},
	})

	if err := h.seq.Start("A"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	h.expectAt("A", 0)

	var missing *resources.MissingResourceError
	if err := h.seq.PlayScene("Z"); !errors.As(err, &missing) {
		t.Errorf("expected direct PlayScene of unknown scene to fail, got %v", err)
	}
}

func TestLoopScenesWraps(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs:      sounds("s1", "s2"),
		GlobalOptions: script.GlobalOptions{LoopScenes: true},
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Sound{ID: "s1", Payload: "s1"},
				&script.Sound{ID: "s2", Payload: "s2"},
			},
		},
	})

	h.seq.Start("A")
	h.seq.Step()
	if err := h.seq.Step(); err != nil {
		t.Fatal(err)
	}

	h.expectAt("A", 0)
	if h.count("scene.wrapped") != 1 {
		t.Errorf("expected one scene.wrapped, got %d", h.count("scene.wrapped"))
	}
	if h.backend.Plays(h.handle("s1")) != 2 {
		t.Errorf("expected s1 replayed, got %d plays", h.backend.Plays(h.handle("s1")))
	}
	if h.backend.IsPlaying(h.handle("s2")) {
		t.Error("expected s2 stopped when wrapping")
	}
}

func TestLoopScenesAutoStepStopsAfterOneLap(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		ArtIDs:        map[string]string{"a": "a.png", "b": "b.png"},
		GlobalOptions: script.GlobalOptions{LoopScenes: true},
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Art{ID: "a", Payload: "a", Scale: 1, Step: true},
				&script.Art{ID: "b", Payload: "b", Scale: 1, Step: true},
			},
		},
	})

	if err := h.seq.Start("A"); err != nil {
		t.Fatal(err)
	}
	h.expectAt("A", 0)
	if h.count("art.show") != 2 {
		t.Errorf("expected each art shown once, got %d", h.count("art.show"))
	}
}

func TestAutoStepStopChecksSound(t *testing.T) {
	tests := []struct {
		name        string
		retain      bool
		wantStops   int
		wantPlaying bool
	}{
		{"stopped when left", false, 1, false},
		{"retained keeps playing", true, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &script.ObjectMap{
				SoundIDs: sounds("thunder", "rain"),
				Scenes: map[string][]script.SceneObject{
					"A": {
						&script.Sound{ID: "crack", Payload: "thunder", Step: true, Retain: tt.retain},
						&script.Sound{ID: "rain", Payload: "rain"},
					},
				},
			})
			thunder := h.handle("thunder")

			if err := h.seq.Start("A"); err != nil {
				t.Fatal(err)
			}

			h.expectAt("A", 1)
			if h.backend.Plays(thunder) != 1 {
				t.Errorf("expected thunder played once, got %d", h.backend.Plays(thunder))
			}
			if got := h.backend.Stops(thunder); got != tt.wantStops {
				t.Errorf("expected %d stops, got %d", tt.wantStops, got)
			}
			if got := h.backend.IsPlaying(thunder); got != tt.wantPlaying {
				t.Errorf("expected playing=%v, got %v", tt.wantPlaying, got)
			}
			if !h.backend.IsPlaying(h.handle("rain")) {
				t.Error("expected rain playing")
			}
		})
	}
}

func TestSceneChangeDropsLoopSubscriptions(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("rain", "bell"),
		Scenes: map[string][]script.SceneObject{
			"A": {&script.Sound{ID: "storm", Payload: "rain", Loop: true}},
			"B": {&script.Sound{ID: "bell", Payload: "bell"}},
		},
	})
	rain := h.handle("rain")

	h.seq.Start("A")
	if err := h.seq.PlayScene("B"); err != nil {
		t.Fatal(err)
	}

	h.expectAt("B", 0)
	if h.seq.LoopCount() != 0 || h.backend.Subscribers(rain) != 0 {
		t.Errorf("expected no loop subscriptions, got %d (backend %d)", h.seq.LoopCount(), h.backend.Subscribers(rain))
	}
	if h.count("loop.cleared") != 1 {
		t.Errorf("expected one loop.cleared, got %d", h.count("loop.cleared"))
	}

	h.backend.SimulateLoop(rain)
	if got := h.count("sound.looped"); got != 0 {
		t.Errorf("expected no looped events after leaving A, got %d", got)
	}
	if !h.backend.IsPlaying(rain) {
		t.Error("jumping away must not stop the sound")
	}
}

func TestStepPastRetainedLoopDropsSubscription(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("bed", "bell"),
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Sound{ID: "bed", Payload: "bed", Loop: true, Retain: true},
				&script.Sound{ID: "bell", Payload: "bell"},
			},
		},
	})
	bed := h.handle("bed")

	h.seq.Start("A")
	h.backend.SimulateLoop(bed)
	if err := h.seq.Step(); err != nil {
		t.Fatal(err)
	}

	h.backend.SimulateLoop(bed)
	h.backend.SimulateLoop(bed)
	if got := h.count("sound.looped"); got != 1 {
		t.Errorf("expected only the looped event before the step, got %d", got)
	}
	if h.backend.Subscribers(bed) != 0 || h.seq.LoopCount() != 0 {
		t.Error("expected loop subscription removed")
	}
	if !h.backend.IsPlaying(bed) || h.backend.Stops(bed) != 0 {
		t.Error("expected retained loop to keep playing")
	}
}

func TestFadeInStartsFromFloor(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("rain"),
		Scenes: map[string][]script.SceneObject{
			"A": {&script.Sound{ID: "rain", Payload: "rain", FadeIn: time.Second}},
		},
	})
	rain := h.handle("rain")

	h.seq.Start("A")

	vols := h.backend.Volumes(rain)
	if vols[len(vols)-1] != fade.Floor {
		t.Errorf("expected volume at floor, got %v", vols)
	}
	h.advance(time.Second)
	if got := h.backend.Volume(rain); got != resources.DefaultVolume {
		t.Errorf("expected fade-in to reach %v, got %v", resources.DefaultVolume, got)
	}
}

func TestReplayingHandleMovesLoopSubscription(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("rain"),
		Scenes: map[string][]script.SceneObject{
			"A": {&script.Sound{ID: "drizzle", Payload: "rain", Loop: true, Retain: true}},
			"B": {&script.Sound{ID: "storm", Payload: "rain", Loop: true}},
		},
	})
	rain := h.handle("rain")

	h.seq.Start("A")
	if err := h.seq.PlayScene("B"); err != nil {
		t.Fatal(err)
	}

	if h.backend.Subscribers(rain) != 1 {
		t.Fatalf("expected exactly one subscription, got %d", h.backend.Subscribers(rain))
	}
	h.backend.SimulateLoop(rain)

	if h.count("sound.looped") != 1 {
		t.Fatalf("expected a single looped event, got %d", h.count("sound.looped"))
	}
	looped := h.last("sound.looped")
	if looped.Fields["scene_id"] != "B" || looped.Fields["object_id"] != "storm" {
		t.Errorf("expected looped event for B/storm, got %v", looped.Fields)
	}
}

func TestStopSilencesEverything(t *testing.T) {
	h := newHarness(t, &script.ObjectMap{
		SoundIDs: sounds("bed", "wind"),
		Scenes: map[string][]script.SceneObject{
			"A": {
				&script.Sound{ID: "bed", Payload: "bed", Retain: true, Loop: true},
				&script.Sound{ID: "wind", Payload: "wind", FadeIn: time.Second},
			},
		},
	})

	h.seq.Start("A")
	h.seq.Step()
	h.seq.Stop()

	if h.seq.State() != Idle {
		t.Error("expected idle after Stop")
	}
	if h.backend.IsPlaying(h.handle("bed")) || h.backend.IsPlaying(h.handle("wind")) {
		t.Error("expected every sound stopped")
	}
	if h.seq.LoopCount() != 0 || h.fades.Pending() != 0 {
		t.Error("expected no loops or fades left")
	}
	if h.count("scene.stopped") != 1 {
		t.Errorf("expected scene.stopped, got %d", h.count("scene.stopped"))
	}
}
