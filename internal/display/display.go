// Package display renders the art the sequencer asks to show.
package display

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"sync"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/AaronLay10/soundstage/internal/events"
)

// Resolver maps an art id to a file on disk.
type Resolver interface {
	ArtPath(id string) (string, error)
}

// Frame is the last rendered image.
type Frame struct {
	ArtID  string
	Path   string
	Scale  float64
	Width  int
	Height int
	PNG    []byte
}

// Renderer decodes and scales art, keeping the most recent frame as PNG.
type Renderer struct {
	resolver Resolver
	em       events.Emitter

	mu      sync.RWMutex
	current *Frame
}

func New(resolver Resolver, em events.Emitter) *Renderer {
	return &Renderer{resolver: resolver, em: em}
}

// Resolve returns the path of artID.
func (r *Renderer) Resolve(artID string) (string, error) {
	return r.resolver.ArtPath(artID)
}

// Render decodes path, scales both sides by scale and makes it the current frame.
func (r *Renderer) Render(path string, scale float64) error {
	return r.render("", path, scale)
}

func (r *Renderer) render(artID, path string, scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("invalid scale %v", scale)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open art: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	img := src
	if scale != 1.0 {
		img = Scale(src, scale)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	b := img.Bounds()
	r.mu.Lock()
	r.current = &Frame{
		ArtID:  artID,
		Path:   path,
		Scale:  scale,
		Width:  b.Dx(),
		Height: b.Dy(),
		PNG:    buf.Bytes(),
	}
	r.mu.Unlock()
	return nil
}

// Scale resizes src by factor with Catmull-Rom resampling. Sides never shrink below one pixel.
func Scale(src image.Image, factor float64) image.Image {
	b := src.Bounds()
	w := int(float64(b.Dx()) * factor)
	h := int(float64(b.Dy()) * factor)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// Current returns the PNG of the last rendered frame.
func (r *Renderer) Current() ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil, false
	}
	return r.current.PNG, true
}

// Frame returns the last rendered frame.
func (r *Renderer) Frame() (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Frame{}, false
	}
	return *r.current, true
}

// Follow renders every art.show event published on bus until ctx is done.
func (r *Renderer) Follow(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if e.Name != "art.show" {
				continue
			}
			r.handleShow(e)
		}
	}
}

func (r *Renderer) handleShow(e events.Event) {
	artID, _ := e.Fields["art_id"].(string)
	path, _ := e.Fields["path"].(string)
	scale, ok := e.Fields["scale"].(float64)
	if !ok {
		scale = 1.0
	}
	if path == "" {
		p, err := r.Resolve(artID)
		if err != nil {
			r.emit("warn", "art.missing", "art not found", map[string]interface{}{
				"art_id": artID,
				"error":  err.Error(),
			})
			return
		}
		path = p
	}

	if err := r.render(artID, path, scale); err != nil {
		r.emit("error", "system.error", "failed to render art", map[string]interface{}{
			"art_id": artID,
			"error":  err.Error(),
		})
	}
}

func (r *Renderer) emit(level, name, msg string, fields map[string]interface{}) {
	if r.em != nil {
		r.em.Emit(level, name, msg, fields)
	}
}
