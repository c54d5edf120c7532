package router

import (
	"context"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Access int

const (
	AccessOwnerOnly Access = iota
	AccessEveryone
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Command is a single-word slash command such as /status.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline button data "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Payload is the callback payload part, empty for messages.
	Payload string
	ReqID   string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends an HTML message back to the originating chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	}
	_, err := r.Sender.SendText(ctx, r.Chat, text, opt)
	return err
}
