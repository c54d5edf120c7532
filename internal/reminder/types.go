package reminder

import (
	"context"
	"time"
)

// RecipientID identifies a chat user. For Telegram it is the decimal user id.
type RecipientID string

// WorkItem is a card read from the store. The engine only ever writes
// LastReminderDate back.
type WorkItem struct {
	ID                   int64
	Name                 string
	Active               bool
	StartDate            time.Time
	EndDate              time.Time
	ReminderIntervalDays *int
	LastReminderDate     *time.Time
	ProjectID            int64
	BoardID              int64
	StyleID              *int64
}

// Baseline is the instant the reminder interval is measured from.
func (w WorkItem) Baseline() time.Time {
	if w.LastReminderDate != nil {
		return *w.LastReminderDate
	}
	return w.StartDate
}

type Project struct {
	ID   int64
	Name string
}

type Board struct {
	ID   int64
	Name string
}

// Style carries the opaque color token of a card (a hex string such as "FF0000").
type Style struct {
	ID    int64
	Token string
}

// Recipient is the resolved presentation of one assignee.
type Recipient struct {
	ID          RecipientID
	DisplayName string
	AvatarRef   string
}

// Field is one line of the reminder card.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Attachment is an optional image sent with the payload.
type Attachment struct {
	Name string
	Data []byte
}

// Payload is the item-scoped reminder sent to every recipient of a wave.
type Payload struct {
	ItemID       int64
	Title        string
	ThumbnailRef string
	// Color is nil when the style token is missing or malformed.
	Color  *int
	Fields []Field
	Image  *Attachment
	Footer string
}

// ItemStore is the persistence boundary of the engine.
type ItemStore interface {
	// ListDueCandidates returns up to limit candidate items with ID > after,
	// ordered by ID, plus the cursor for the next page.
	ListDueCandidates(ctx context.Context, today time.Time, after int64, limit int) ([]WorkItem, int64, error)
	ListAssignments(ctx context.Context, itemID int64) ([]RecipientID, error)
	// UpdateLastReminder returns an error wrapping ErrItemNotFound when the
	// item no longer exists.
	UpdateLastReminder(ctx context.Context, itemID int64, at time.Time) error
	FindProject(ctx context.Context, id int64) (Project, bool, error)
	FindBoard(ctx context.Context, id int64) (Board, bool, error)
	FindStyle(ctx context.Context, id int64) (Style, bool, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, id RecipientID) (Recipient, error)
}

type CollageRenderer interface {
	Compose(ctx context.Context, avatarRefs []string) ([]byte, error)
}

type NotificationSink interface {
	Deliver(ctx context.Context, to RecipientID, p Payload) error
}

// ThumbnailProvider optionally supplies the thumbnail shown on every card.
type ThumbnailProvider interface {
	ThumbnailRef(ctx context.Context) string
}

// PassReport summarizes one evaluation pass.
type PassReport struct {
	PassID               string        `json:"pass_id"`
	StartedAt            time.Time     `json:"started_at"`
	Duration             time.Duration `json:"duration"`
	PagesFetched         int           `json:"pages_fetched"`
	ItemsScanned         int           `json:"items_scanned"`
	ItemsDue             int           `json:"items_due"`
	ItemsAdvanced        int           `json:"items_advanced"`
	NotificationsSent    int           `json:"notifications_sent"`
	NotificationsFailed  int           `json:"notifications_failed"`
	RecipientsUnresolved int           `json:"recipients_unresolved"`
	RenderFailures       int           `json:"render_failures"`
	MalformedStyles      int           `json:"malformed_styles"`
	ClockAdvanceFailures int           `json:"clock_advance_failures"`
	Aborted              bool          `json:"aborted"`
	Errors               []*PassError  `json:"-"`
}

// ErrorStrings renders Errors for JSON/status output.
func (r PassReport) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e != nil {
			out = append(out, e.Error())
		}
	}
	return out
}

// itemResult is the per-item outcome merged into the PassReport.
type itemResult struct {
	due        bool
	advanced   bool
	sent       int
	failed     int
	unresolved int
	renderFail bool
	badStyle   bool
	clockFail  bool
	errs       []*PassError
}

func (r *PassReport) merge(ir itemResult) {
	if ir.due {
		r.ItemsDue++
	}
	if ir.advanced {
		r.ItemsAdvanced++
	}
	r.NotificationsSent += ir.sent
	r.NotificationsFailed += ir.failed
	r.RecipientsUnresolved += ir.unresolved
	if ir.renderFail {
		r.RenderFailures++
	}
	if ir.badStyle {
		r.MalformedStyles++
	}
	if ir.clockFail {
		r.ClockAdvanceFailures++
	}
	r.Errors = append(r.Errors, ir.errs...)
}
