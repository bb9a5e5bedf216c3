package script

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AaronLay10/soundstage/internal/events"
)

// MapFile is the script file name inside a data directory.
const MapFile = "map.json"

// ReadRaw reads <dir>/map.json. Root is set to dir.
func ReadRaw(dir string) (*RawMap, error) {
	path := filepath.Join(dir, MapFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read map file: %w", err)
	}

	raw, err := ParseRaw(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	raw.Root = filepath.Clean(dir)
	return raw, nil
}

// Load reads, validates and compiles the map in dir. Invalid entries are
// dropped and reported; only unreadable or structurally broken files fail.
func Load(dir string, em events.Emitter) (*ObjectMap, Report, error) {
	raw, err := ReadRaw(dir)
	if err != nil {
		return nil, nil, err
	}

	validated, report := Validate(raw, em)
	m, err := Compile(validated)
	if err != nil {
		return nil, report, err
	}
	return m, report, nil
}
