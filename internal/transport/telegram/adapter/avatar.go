package adapter

import (
	"context"
	"image"
	"io"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/collage"
)

// FileReader downloads a Telegram file by id.
type FileReader interface {
	File(f *tele.File) (io.ReadCloser, error)
}

// AvatarSource loads profile photos referenced by Telegram file id.
type AvatarSource struct {
	Files FileReader
}

var _ collage.Source = AvatarSource{}

func (s AvatarSource) Fetch(ctx context.Context, ref string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := s.Files.File(&tele.File{FileID: ref})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return collage.Decode(rc)
}
