package router

import (
	"context"
	"html"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Dispatcher routes slash commands and inline callbacks to handlers on a
// small worker pool.
type Dispatcher struct {
	log     logx.Logger
	adapter kit.Adapter
	workers int

	mu        sync.RWMutex
	cmds      map[string]Command
	ordered   []Command
	callbacks map[string]CallbackRoute
	owners    map[int64]struct{}

	jobs chan func()
}

func NewDispatcher(adapter kit.Adapter, owners []int64, workers int, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = 2
	}
	d := &Dispatcher{
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		workers:   workers,
		cmds:      map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		jobs:      make(chan func(), 64),
	}
	d.SetOwners(owners)
	return d
}

// SetOwners replaces the owner list. Safe during hot reload.
func (d *Dispatcher) SetOwners(owners []int64) {
	m := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		m[id] = struct{}{}
	}
	d.mu.Lock()
	d.owners = m
	d.mu.Unlock()
}

func (d *Dispatcher) isOwner(id int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.owners[id]
	return ok
}

// Register installs commands and callbacks, adds /help and publishes the
// command menu when the adapter supports it.
func (d *Dispatcher) Register(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "list commands",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, d.helpText(), nil)
		},
	})

	byName := map[string]Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = c
				}
			}
		}
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	cb := map[string]CallbackRoute{}
	for _, r := range cbs {
		if r.Scope == "" || r.Action == "" || r.Handle == nil {
			continue
		}
		cb[r.Scope+":"+r.Action] = r
	}

	d.mu.Lock()
	d.cmds, d.ordered, d.callbacks = byName, ordered, cb
	d.mu.Unlock()

	if up, ok := d.adapter.(kit.CommandMenuUpdater); ok {
		menu := menuCommands(ordered)
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				d.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (d *Dispatcher) helpText() string {
	d.mu.RLock()
	cmds := append([]Command(nil), d.ordered...)
	d.mu.RUnlock()

	lines := []string{"📚 <b>Commands</b>"}
	for _, c := range cmds {
		line := "/" + html.EscapeString(c.Name)
		if c.Usage != "" {
			line = tgui.Code(c.Usage).String()
		}
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		if c.Access == AccessOwnerOnly {
			line += " 🔒"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Run consumes updates until ctx is done or updates is closed.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(d.log), rtsup.WithCancelOnError(false))
	for i := 0; i < d.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-d.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	d.log.Info("command dispatcher started", logx.Int("workers", d.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(sup.Context(), up)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		d.routeMessage(ctx, up)
	case kit.UpdateCallback:
		d.routeCallback(ctx, up)
	}
}

func (d *Dispatcher) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Sender:  d.adapter,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (d *Dispatcher) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	d.mu.RLock()
	cmd, found := d.cmds[word]
	d.mu.RUnlock()
	if !found {
		_, _ = d.adapter.SendText(ctx, chat, "unknown command, try /help", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !d.isOwner(msg.FromID) {
		_, _ = d.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	req := d.newRequest(up, chat, msg.FromID, cmd.Name)
	req.Args = parts[1:]
	h := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(cmd.Timeout))
	if !d.enqueue(func() { _ = h(ctx, req) }) {
		_, _ = d.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

func (d *Dispatcher) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload, ok := tgui.ParseData(strings.TrimSpace(cb.Data))
	if !ok {
		return
	}
	d.mu.RLock()
	route, found := d.callbacks[scope+":"+action]
	d.mu.RUnlock()
	if !found {
		_ = d.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if route.Access == AccessOwnerOnly && !d.isOwner(cb.FromID) {
		_ = d.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	req := d.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+scope+":"+action)
	req.Payload = payload
	h := Chain(route.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(route.Timeout))
	if !d.enqueue(func() {
		_ = h(ctx, req)
		_ = d.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = d.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

func (d *Dispatcher) enqueue(fn func()) bool {
	select {
	case d.jobs <- fn:
		return true
	default:
		return false
	}
}
