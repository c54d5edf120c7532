package adapter

import (
	"fmt"

	"remindbot/internal/collage"
	"remindbot/internal/reminder"
	"remindbot/pkg/tgui"
)

const defaultMarker = "🔔"

type swatch struct {
	emoji   string
	r, g, b int
}

// Telegram HTML has no colors; the card color becomes the closest square.
var swatches = []swatch{
	{"🟥", 0xDD, 0x2E, 0x44},
	{"🟧", 0xF4, 0x90, 0x0C},
	{"🟨", 0xFD, 0xCB, 0x58},
	{"🟩", 0x78, 0xB1, 0x59},
	{"🟦", 0x55, 0xAC, 0xEE},
	{"🟪", 0xAA, 0x8E, 0xD6},
	{"🟫", 0xC1, 0x69, 0x4F},
	{"⬛", 0x29, 0x2F, 0x33},
	{"⬜", 0xE6, 0xE7, 0xE8},
}

// ColorMarker maps a 24-bit color to the nearest colored square emoji.
func ColorMarker(color *int) string {
	if color == nil {
		return defaultMarker
	}
	r, g, b := (*color>>16)&0xFF, (*color>>8)&0xFF, *color&0xFF
	best, bestDist := defaultMarker, -1
	for _, s := range swatches {
		dr, dg, db := r-s.r, g-s.g, b-s.b
		d := dr*dr + dg*dg + db*db
		if bestDist < 0 || d < bestDist {
			best, bestDist = s.emoji, d
		}
	}
	return best
}

// RenderPayload turns a reminder card into a Telegram HTML message.
// Consecutive inline fields share one line. A URL thumbnail becomes the
// link preview when no image is attached.
func RenderPayload(p reminder.Payload) tgui.Message {
	b := tgui.New()
	marker := ColorMarker(p.Color)
	if p.Image == nil && collage.IsURL(p.ThumbnailRef) {
		marker = tgui.HiddenLink(p.ThumbnailRef).String() + marker
		b.DisablePreview(false)
	}
	b.Title(marker, p.Title)

	var inline [][2]string
	flush := func() {
		if len(inline) > 0 {
			b.KVs(inline...)
			inline = nil
		}
	}
	for _, f := range p.Fields {
		if f.Inline {
			inline = append(inline, [2]string{f.Name, f.Value})
			continue
		}
		flush()
		b.KV(f.Name, f.Value)
	}
	flush()

	var footer tgui.H
	if p.Footer != "" {
		footer = tgui.I(p.Footer)
	}
	if p.Color != nil {
		footer = tgui.JoinH(" · ", footer, tgui.Code(fmt.Sprintf("#%06X", *p.Color)))
	}
	if footer != "" {
		b.Blank().RawLine(footer.String())
	}
	return b.Build()
}
