package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
)

// ChatLookup is the subset of the bot API the resolver needs.
type ChatLookup interface {
	ChatByID(id int64) (*tele.Chat, error)
}

// Resolver turns Telegram user ids into display names and avatar file ids.
// Successful lookups are cached for TTL.
type Resolver struct {
	api ChatLookup
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[reminder.RecipientID]cachedRecipient
}

type cachedRecipient struct {
	rec reminder.Recipient
	at  time.Time
}

var _ reminder.IdentityResolver = (*Resolver)(nil)

func NewResolver(api ChatLookup, ttl time.Duration) *Resolver {
	return &Resolver{api: api, ttl: ttl, now: time.Now, cache: map[reminder.RecipientID]cachedRecipient{}}
}

func (r *Resolver) Resolve(ctx context.Context, id reminder.RecipientID) (reminder.Recipient, error) {
	if r.ttl > 0 {
		r.mu.Lock()
		c, ok := r.cache[id]
		r.mu.Unlock()
		if ok && r.now().Sub(c.at) < r.ttl {
			return c.rec, nil
		}
	}

	uid, err := ParseRecipient(id)
	if err != nil {
		return reminder.Recipient{}, err
	}

	// ChatByID takes no context; bound it from the outside.
	type result struct {
		chat *tele.Chat
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := r.api.ChatByID(uid)
		ch <- result{c, err}
	}()
	var res result
	select {
	case <-ctx.Done():
		return reminder.Recipient{}, ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return reminder.Recipient{}, fmt.Errorf("telegram chat %d: %w", uid, res.err)
	}
	if res.chat == nil {
		return reminder.Recipient{}, fmt.Errorf("telegram chat %d: empty response", uid)
	}

	rec := reminder.Recipient{ID: id, DisplayName: DisplayName(res.chat)}
	if res.chat.Photo != nil {
		rec.AvatarRef = res.chat.Photo.SmallFileID
	}
	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[id] = cachedRecipient{rec: rec, at: r.now()}
		r.mu.Unlock()
	}
	return rec, nil
}

// ParseRecipient converts a recipient id to a Telegram chat id.
func ParseRecipient(id reminder.RecipientID) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(id)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("recipient %q is not a telegram id", id)
	}
	return v, nil
}

// DisplayName prefers the @username, then the full name, then the id.
func DisplayName(c *tele.Chat) string {
	if u := strings.TrimSpace(c.Username); u != "" {
		return "@" + u
	}
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name != "" {
		return name
	}
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	return strconv.FormatInt(c.ID, 10)
}
