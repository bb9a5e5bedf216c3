package script

import (
	"fmt"
	"sort"
	"time"
)

// Compile types a validated RawMap into an ObjectMap. It fails on entries
// Validate would have removed, so call it on Validate's output.
func Compile(raw *RawMap) (*ObjectMap, error) {
	if raw == nil || raw.Scenes == nil {
		return nil, fmt.Errorf("map has no scenes")
	}

	m := &ObjectMap{
		SoundIDs: copyStrings(raw.SoundIDs),
		ArtIDs:   copyStrings(raw.ArtIDs),
		Scenes:   make(map[string][]SceneObject, len(raw.Scenes)),
		Root:     raw.Root,
	}
	if m.SoundIDs == nil {
		m.SoundIDs = map[string]string{}
	}
	if m.ArtIDs == nil {
		m.ArtIDs = map[string]string{}
	}
	if raw.GlobalOptions != nil {
		m.GlobalOptions = *raw.GlobalOptions
	}

	for scene, entries := range raw.Scenes {
		objs := make([]SceneObject, 0, len(entries))
		for i, e := range entries {
			obj, err := compileEntry(e)
			if err != nil {
				return nil, fmt.Errorf("scene %s obj %d: %w", scene, i, err)
			}
			objs = append(objs, obj)
		}
		m.Scenes[scene] = objs
	}

	return m, nil
}

func compileEntry(e map[string]interface{}) (SceneObject, error) {
	typ, _ := e["type"].(string)
	id, _ := e["id"].(string)
	payload, _ := e["payload"].(string)
	if typ == "" || id == "" || payload == "" {
		return nil, fmt.Errorf("entry was not validated")
	}

	switch Kind(typ) {
	case KindSound:
		return &Sound{
			ID:      id,
			Payload: payload,
			Loop:    boolField(e, "loop", false),
			Retain:  boolField(e, "retain", false),
			Step:    boolField(e, "step", false),
			FadeIn:  millis(e, "fadein"),
			FadeOut: millis(e, "fadeout"),
		}, nil
	case KindCue:
		return &Cue{ID: id, Payload: payload}, nil
	case KindArt:
		scale := 1.0
		if n, ok := number(e["scale"]); ok && n > 0 {
			scale = n
		}
		return &Art{
			ID:      id,
			Payload: payload,
			Scale:   scale,
			Step:    boolField(e, "step", true),
		}, nil
	default:
		return &Unknown{ID: id, Type: typ, Payload: payload}, nil
	}
}

func millis(e map[string]interface{}, field string) time.Duration {
	n, ok := number(e[field])
	if !ok || n <= 0 {
		return 0
	}
	return time.Duration(n * float64(time.Millisecond))
}

// CheckReferences reports payloads that point at ids the map does not declare.
// These entries are kept; dispatching them is a logged no-op.
func CheckReferences(m *ObjectMap) Report {
	report := make(Report)
	scenes := make([]string, 0, len(m.Scenes))
	for id := range m.Scenes {
		scenes = append(scenes, id)
	}
	sort.Strings(scenes)

	for _, scene := range scenes {
		for i, obj := range m.Scenes[scene] {
			key := fmt.Sprintf("scenes_%s_%d_", scene, i)
			switch o := obj.(type) {
			case *Sound:
				if _, ok := m.SoundIDs[o.Payload]; !ok {
					report[key+"unknown_sound"] = fmt.Sprintf("Scene `%s` obj %d plays undeclared sound `%s`.", scene, i, o.Payload)
				}
			case *Art:
				if _, ok := m.ArtIDs[o.Payload]; !ok {
					report[key+"unknown_art"] = fmt.Sprintf("Scene `%s` obj %d shows undeclared art `%s`.", scene, i, o.Payload)
				}
			case *Cue:
				if !m.HasScene(o.Payload) {
					report[key+"unknown_scene"] = fmt.Sprintf("Scene `%s` obj %d cues undeclared scene `%s`.", scene, i, o.Payload)
				}
			case *Unknown:
				report[key+"unknown_type"] = fmt.Sprintf("Scene `%s` obj %d has unsupported type `%s`.", scene, i, o.Type)
			}
		}
	}
	return report
}
