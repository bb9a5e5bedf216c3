package script

import (
	"encoding/json"
	"fmt"
)

// RawMap mirrors map.json. Scene entries stay untyped until they pass Validate.
type RawMap struct {
	SoundIDs      map[string]string                   `json:"soundIDs"`
	ArtIDs        map[string]string                   `json:"artIDs,omitempty"`
	Scenes        map[string][]map[string]interface{} `json:"scenes"`
	GlobalOptions *GlobalOptions                      `json:"globalOptions,omitempty"`

	// ShortHands is the older name of soundIDs; ParseRaw folds it in.
	ShortHands map[string]string `json:"shortHands,omitempty"`

	// Root is the directory holding map.json. It is never read from the file.
	Root string `json:"-"`
}

// ParseRaw decodes a map.json document.
func ParseRaw(data []byte) (*RawMap, error) {
	var raw RawMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse map JSON: %w", err)
	}
	if len(raw.ShortHands) > 0 {
		if raw.SoundIDs == nil {
			raw.SoundIDs = make(map[string]string, len(raw.ShortHands))
		}
		for id, path := range raw.ShortHands {
			if _, ok := raw.SoundIDs[id]; !ok {
				raw.SoundIDs[id] = path
			}
		}
		raw.ShortHands = nil
	}
	return &raw, nil
}

// Clone returns a deep copy so repairs never alias the caller's map.
func (r *RawMap) Clone() *RawMap {
	if r == nil {
		return nil
	}
	out := &RawMap{
		SoundIDs:   copyStrings(r.SoundIDs),
		ArtIDs:     copyStrings(r.ArtIDs),
		ShortHands: copyStrings(r.ShortHands),
		Root:       r.Root,
	}
	if r.GlobalOptions != nil {
		opts := *r.GlobalOptions
		out.GlobalOptions = &opts
	}
	if r.Scenes != nil {
		out.Scenes = make(map[string][]map[string]interface{}, len(r.Scenes))
		for id, entries := range r.Scenes {
			cp := make([]map[string]interface{}, len(entries))
			for i, e := range entries {
				cp[i] = copyValue(e).(map[string]interface{})
			}
			out.Scenes[id] = cp
		}
	}
	return out
}

func copyStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if t == nil {
			return map[string]interface{}(nil)
		}
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = copyValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, inner := range t {
			out[i] = copyValue(inner)
		}
		return out
	default:
		return v
	}
}
