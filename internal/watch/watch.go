// Package watch re-validates the data map whenever map.json changes on disk.
// Changes are reported, not applied: the running session keeps the map it
// was started with.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AaronLay10/soundstage/internal/events"
	"github.com/AaronLay10/soundstage/internal/script"
)

// debounce drops repeat notifications for one save.
const debounce = 100 * time.Millisecond

// Watcher observes the map directory. Editors often replace files by
// rename, so the directory is watched rather than the file.
type Watcher struct {
	dir     string
	em      events.Emitter
	watcher *fsnotify.Watcher
	once    sync.Once
}

// New starts watching dir.
func New(dir string, em events.Emitter) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Watcher{dir: dir, em: em, watcher: w}, nil
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() { err = w.watcher.Close() })
	return err
}

// Run reports map changes until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	defer w.Close()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(event.Name) != script.MapFile {
				continue
			}
			now := time.Now()
			if now.Sub(last) < debounce {
				continue
			}
			last = now
			w.Check()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.emit("warn", "system.error", "map watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Check reads and dry-run validates the map, returning the report.
func (w *Watcher) Check() (script.Report, error) {
	path := filepath.Join(w.dir, script.MapFile)

	raw, err := script.ReadRaw(w.dir)
	if err != nil {
		w.emit("warn", "config.changed", "map file unreadable", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return nil, err
	}

	_, report := script.ValidateDryRun(raw, w.em)
	w.emit("info", "config.changed", "restart to apply", map[string]interface{}{
		"path":     path,
		"problems": len(report),
	})
	return report, nil
}

func (w *Watcher) emit(level, name, msg string, fields map[string]interface{}) {
	if w.em != nil {
		w.em.Emit(level, name, msg, fields)
	}
}
