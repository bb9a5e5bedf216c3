package script

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AaronLay10/soundstage/internal/events"
)

// Report maps a stable diagnostic key to a human-readable message.
type Report map[string]string

// Keys returns the report keys in sorted order.
func (r Report) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Err returns a *ConfigValidationError describing the report, or nil if it is empty.
func (r Report) Err() error {
	if len(r) == 0 {
		return nil
	}
	return &ConfigValidationError{Report: r}
}

// ConfigValidationError wraps a non-empty validation report.
type ConfigValidationError struct {
	Report Report
}

func (e *ConfigValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d invalid map entries", len(e.Report))
	for _, k := range e.Report.Keys() {
		fmt.Fprintf(&b, "\n  %s: %s", k, e.Report[k])
	}
	return b.String()
}

// Validate checks every scene entry and returns a repaired deep copy with the
// invalid entries removed, plus the report of what was wrong. It never fails
// the load; em may be nil.
func Validate(raw *RawMap, em events.Emitter) (*RawMap, Report) {
	return validate(raw, true, em)
}

// ValidateDryRun performs the same checks as Validate but returns raw unmodified.
func ValidateDryRun(raw *RawMap, em events.Emitter) (*RawMap, Report) {
	return validate(raw, false, em)
}

func validate(raw *RawMap, repair bool, em events.Emitter) (*RawMap, Report) {
	report := make(Report)
	if raw == nil {
		report["scenes_missing"] = "Sound Mapping is missing a `scenes` mapping."
		emitReport(em, report, repair)
		return raw, report
	}

	out := raw
	if repair {
		out = raw.Clone()
	}

	if raw.Scenes == nil {
		report["scenes_missing"] = "Sound Mapping is missing a `scenes` mapping."
	} else {
		for _, scene := range sortedSceneIDs(raw.Scenes) {
			entries := raw.Scenes[scene]
			var kept []int
			for i, obj := range entries {
				if checkEntry(scene, i, obj, report) {
					kept = append(kept, i)
				}
			}
			if repair {
				// surviving entries compress; removing i shifts later indices down
				src := out.Scenes[scene]
				filtered := make([]map[string]interface{}, 0, len(kept))
				for _, i := range kept {
					filtered = append(filtered, src[i])
				}
				out.Scenes[scene] = filtered
			}
		}
	}

	emitReport(em, report, repair)
	return out, report
}

// checkEntry records every problem with one entry and returns true if it is usable.
func checkEntry(scene string, i int, obj map[string]interface{}, report Report) bool {
	ok := true
	key := func(reason string) string {
		return fmt.Sprintf("scenes_%s_%d_%s", scene, i, reason)
	}
	fail := func(reason, format string, args ...interface{}) {
		report[key(reason)] = fmt.Sprintf("Scene `%s` obj %d ", scene, i) + fmt.Sprintf(format, args...)
		ok = false
	}

	requireString := func(field, missing, badtype string) string {
		v, present := obj[field]
		if !present {
			fail(missing, "is missing %s.", article(field))
			return ""
		}
		s, isString := v.(string)
		if !isString {
			fail(badtype, "has an unexpected type for `%s`.", field)
			return ""
		}
		if s == "" {
			fail(missing, "has an empty `%s`.", field)
		}
		return s
	}

	typ := requireString("type", "notype", "type_badtype")
	requireString("id", "noid", "id_badtype")
	requireString("payload", "nopayload", "payload_badtype")

	for _, field := range []string{"loop", "retain", "step"} {
		if v, present := obj[field]; present {
			if _, isBool := v.(bool); !isBool {
				fail(field+"_badtype", "has an unexpected type for `%s`.", field)
			}
		}
	}

	for _, field := range []string{"fadein", "fadeout"} {
		if v, present := obj[field]; present {
			if n, isNum := number(v); !isNum || n < 0 {
				fail(field+"_badtype", "has an unexpected value for `%s`; want milliseconds >= 0.", field)
			}
		}
	}

	if v, present := obj["scale"]; present {
		if n, isNum := number(v); !isNum || n <= 0 {
			fail("scale_badtype", "has an unexpected value for `scale`; want a number > 0.")
		}
	}

	if typ == string(KindSound) && boolField(obj, "loop", false) && boolField(obj, "step", false) {
		fail("step_loop", "is a looping sound with `step` set; it would be stopped as soon as it starts.")
	}

	return ok
}

func emitReport(em events.Emitter, report Report, repair bool) {
	if em == nil || len(report) == 0 {
		return
	}
	errs := make(map[string]interface{}, len(report))
	for k, v := range report {
		errs[k] = v
	}
	em.Emit("warn", "config.invalid", "encountered errors in data map", map[string]interface{}{
		"count":   len(report),
		"errors":  errs,
		"dry_run": !repair,
	})
}

func article(field string) string {
	if field == "id" {
		return "an id"
	}
	return "a " + field
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func boolField(obj map[string]interface{}, field string, def bool) bool {
	if b, ok := obj[field].(bool); ok {
		return b
	}
	return def
}

func sortedSceneIDs(scenes map[string][]map[string]interface{}) []string {
	ids := make([]string, 0, len(scenes))
	for id := range scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
