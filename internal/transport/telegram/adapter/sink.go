package adapter

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Sink delivers reminder cards as direct Telegram messages.
type Sink struct {
	text    kit.Sender
	photo   kit.PhotoSender
	limiter *rate.Limiter
	log     logx.Logger
}

var _ reminder.NotificationSink = (*Sink)(nil)

// NewSink builds a sink. perSecond <= 0 disables rate limiting. photo may be
// nil, in which case attachments are dropped.
func NewSink(text kit.Sender, photo kit.PhotoSender, perSecond float64, log logx.Logger) (*Sink, error) {
	if text == nil {
		return nil, errors.New("telegram sink: nil sender")
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{text: text, photo: photo, limiter: lim, log: log.With(logx.String("comp", "telegram.sink"))}, nil
}

func (s *Sink) Deliver(ctx context.Context, to reminder.RecipientID, p reminder.Payload) error {
	chatID, err := ParseRecipient(to)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	target := kit.ChatTarget{ChatID: chatID}
	msg := RenderPayload(p)

	if p.Image == nil || s.photo == nil || len(p.Image.Data) == 0 {
		_, err := msg.Send(ctx, s.text, target)
		return wrapDeliver(p.ItemID, chatID, err)
	}

	if utf8.RuneCountInString(msg.Text) <= CaptionLimit {
		_, err := s.photo.SendPhoto(ctx, target, p.Image.Name, p.Image.Data, msg.Text, msg.Opt)
		return wrapDeliver(p.ItemID, chatID, err)
	}

	// Caption too long: text, then the bare image.
	if _, err := msg.Send(ctx, s.text, target); err != nil {
		return wrapDeliver(p.ItemID, chatID, err)
	}
	if _, err := s.photo.SendPhoto(ctx, target, p.Image.Name, p.Image.Data, "", nil); err != nil {
		s.log.Warn("collage send failed", logx.Int64("item_id", p.ItemID), logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return nil
}

func wrapDeliver(itemID, chatID int64, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("deliver item %d to %d: %w", itemID, chatID, err)
}
