// Package collage composes recipient avatars into one PNG grid of circular
// thumbnails.
package collage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

type Config struct {
	AvatarSize   int
	Padding      int
	MaxColumns   int
	FetchTimeout time.Duration
	// Workers bounds concurrent avatar fetches.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.AvatarSize <= 0 {
		c.AvatarSize = 32
	}
	if c.Padding < 0 {
		c.Padding = 0
	} else if c.Padding == 0 {
		c.Padding = 10
	}
	if c.MaxColumns <= 0 {
		c.MaxColumns = 5
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

var placeholderColor = color.NRGBA{R: 0x99, G: 0xAA, B: 0xB5, A: 0xFF}

type Renderer struct {
	cfg Config
	src Source
	log logx.Logger
}

var _ reminder.CollageRenderer = (*Renderer)(nil)

func New(cfg Config, src Source, log logx.Logger) *Renderer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Renderer{cfg: cfg.withDefaults(), src: src, log: log.With(logx.String("comp", "collage"))}
}

// Grid returns the canvas size for n avatars.
func (r *Renderer) Grid(n int) (cols, rows, width, height int) {
	if n <= 0 {
		return 0, 0, 0, 0
	}
	cols = min(n, r.cfg.MaxColumns)
	rows = (n + cols - 1) / cols
	step := r.cfg.AvatarSize + r.cfg.Padding
	return cols, rows, step*cols - r.cfg.Padding, step*rows - r.cfg.Padding
}

// Compose draws refs left to right, top to bottom, in the given order. A ref
// that is empty or fails to load is drawn as a placeholder disc; the call
// fails only when no avatar could be loaded at all.
func (r *Renderer) Compose(ctx context.Context, refs []string) ([]byte, error) {
	if len(refs) == 0 {
		return nil, reminder.ErrNoAvatars
	}
	imgs, loaded := r.fetchAll(ctx, refs)
	if loaded == 0 {
		return nil, fmt.Errorf("collage: none of %d avatars could be loaded", len(refs))
	}

	cols, _, w, h := r.Grid(len(refs))
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	size := r.cfg.AvatarSize
	step := size + r.cfg.Padding
	mask := &circle{r: size}

	for i, img := range imgs {
		x := (i % cols) * step
		y := (i / cols) * step
		cell := image.Rect(x, y, x+size, y+size)

		tile := image.NewNRGBA(image.Rect(0, 0, size, size))
		if img == nil {
			draw.Draw(tile, tile.Bounds(), &image.Uniform{C: placeholderColor}, image.Point{}, draw.Src)
		} else {
			draw.CatmullRom.Scale(tile, tile.Bounds(), img, img.Bounds(), draw.Src, nil)
		}
		draw.DrawMask(canvas, cell, tile, image.Point{}, mask, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("collage: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) fetchAll(ctx context.Context, refs []string) ([]image.Image, int) {
	imgs := make([]image.Image, len(refs))
	if r.src == nil {
		return imgs, 0
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		loaded int
	)
	sem := make(chan struct{}, r.cfg.Workers)
	for i, ref := range refs {
		if ref == "" {
			continue
		}
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
			defer cancel()
			img, err := r.src.Fetch(fctx, ref)
			if err == nil && img == nil {
				err = errors.New("empty image")
			}
			if err != nil {
				r.log.Warn("avatar fetch failed", logx.Int("index", i), logx.Err(err))
				return
			}
			imgs[i] = img
			mu.Lock()
			loaded++
			mu.Unlock()
		}(i, ref)
	}
	wg.Wait()
	return imgs, loaded
}

// circle is an alpha mask of a disc inscribed in an r×r square at the origin.
type circle struct{ r int }

func (c *circle) ColorModel() color.Model { return color.AlphaModel }

func (c *circle) Bounds() image.Rectangle { return image.Rect(0, 0, c.r, c.r) }

func (c *circle) At(x, y int) color.Color {
	rad := float64(c.r) / 2
	dx := float64(x) + 0.5 - rad
	dy := float64(y) + 0.5 - rad
	if dx*dx+dy*dy <= rad*rad {
		return color.Alpha{A: 255}
	}
	return color.Alpha{A: 0}
}
