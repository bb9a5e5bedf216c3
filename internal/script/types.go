package script

import "time"

// Kind is the type tag of a scene entry.
type Kind string

const (
	KindSound Kind = "sound"
	KindCue   Kind = "cue"
	KindArt   Kind = "art"
)

// ObjectMap is the validated, typed scene script. It is not modified after Compile.
type ObjectMap struct {
	SoundIDs      map[string]string
	ArtIDs        map[string]string
	Scenes        map[string][]SceneObject
	Root          string
	GlobalOptions GlobalOptions
}

// GlobalOptions holds script-wide switches.
type GlobalOptions struct {
	// LoopScenes wraps a scene back to its first entry instead of ending it.
	LoopScenes bool `json:"loopScenes"`
}

// SceneObject is one entry of a scene. The concrete type is one of
// *Sound, *Cue, *Art or *Unknown.
type SceneObject interface {
	ObjectID() string
	Kind() Kind
	Target() string
	sceneObject()
}

// Sound plays a sound id from the registry.
type Sound struct {
	ID      string
	Payload string
	Loop    bool
	Retain  bool
	Step    bool
	FadeIn  time.Duration
	FadeOut time.Duration
}

// Cue jumps to the start of another scene. There is no return.
type Cue struct {
	ID      string
	Payload string
}

// Art asks the presentation layer to show an image.
type Art struct {
	ID      string
	Payload string
	Scale   float64
	Step    bool
}

// Unknown keeps entries whose type this build does not understand.
type Unknown struct {
	ID      string
	Type    string
	Payload string
}

func (s *Sound) ObjectID() string { return s.ID }
func (s *Sound) Kind() Kind       { return KindSound }
func (s *Sound) Target() string   { return s.Payload }
func (*Sound) sceneObject()       {}

func (c *Cue) ObjectID() string { return c.ID }
func (c *Cue) Kind() Kind       { return KindCue }
func (c *Cue) Target() string   { return c.Payload }
func (*Cue) sceneObject()       {}

func (a *Art) ObjectID() string { return a.ID }
func (a *Art) Kind() Kind       { return KindArt }
func (a *Art) Target() string   { return a.Payload }
func (*Art) sceneObject()       {}

func (u *Unknown) ObjectID() string { return u.ID }
func (u *Unknown) Kind() Kind       { return Kind(u.Type) }
func (u *Unknown) Target() string   { return u.Payload }
func (*Unknown) sceneObject()       {}

// Scene returns the entries of a scene and whether it exists.
func (m *ObjectMap) Scene(id string) ([]SceneObject, bool) {
	objs, ok := m.Scenes[id]
	return objs, ok
}

// HasScene returns true if the scene exists in the map.
func (m *ObjectMap) HasScene(id string) bool {
	_, ok := m.Scenes[id]
	return ok
}
