package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// scene
	"scene.started":   {},
	"scene.exhausted": {},
	"scene.wrapped":   {},
	"scene.stopped":   {},

	// cue
	"cue.jump":  {},
	"cue.cycle": {},

	// sound
	"sound.played":  {},
	"sound.stopped": {},
	"sound.looped":  {},
	"loop.cleared":  {},

	// art
	"art.show":    {},
	"art.missing": {},

	// fade
	"fade.started":   {},
	"fade.completed": {},
	"fade.cancelled": {},

	// dispatch
	"dispatch.unknown": {},
	"resource.missing": {},
	"resource.loaded":  {},

	// config
	"config.invalid": {},
	"config.changed": {},

	// operator
	"operator.start": {},
	"operator.step":  {},
	"operator.jump":  {},

	// bridges
	"mqtt.connected":    {},
	"mqtt.disconnected": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
