package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	UnknownProject = "Unknown Project"
	UnknownBoard   = "Unknown Board"

	DefaultDateFormat = "Mon 02/01/2006 15:04"
	CollageFileName   = "avatars.png"
	Footer            = "Task Reminder"

	maxColor = 0xFFFFFF
)

// ParseColor parses a style token as a base-16 RGB integer ("FF0000",
// "#ff0000" and "0xFF0000" are accepted).
func ParseColor(token string) (int, error) {
	s := strings.TrimSpace(token)
	s = strings.TrimPrefix(s, "#")
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if s == "" {
		return 0, fmt.Errorf("%w: empty token", ErrMalformedStyle)
	}
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedStyle, token)
	}
	if v < 0 || v > maxColor {
		return 0, fmt.Errorf("%w: %q out of range", ErrMalformedStyle, token)
	}
	return int(v), nil
}

// itemContext is everything resolved once per due item.
type itemContext struct {
	item        WorkItem
	projectName string
	boardName   string
	color       *int
	thumbnail   string
	recipients  []Recipient
	collage     []byte
	now         time.Time
}

type payloadBuilder struct {
	dateFormat string
	loc        *time.Location
}

func (b payloadBuilder) build(ic itemContext) Payload {
	layout := b.dateFormat
	if layout == "" {
		layout = DefaultDateFormat
	}
	loc := b.loc
	if loc == nil {
		loc = time.Local
	}

	names := make([]string, 0, len(ic.recipients))
	for _, r := range ic.recipients {
		names = append(names, r.DisplayName)
	}

	p := Payload{
		ItemID:       ic.item.ID,
		Title:        ic.projectName,
		ThumbnailRef: ic.thumbnail,
		Color:        ic.color,
		Fields: []Field{
			{Name: "Board", Value: ic.boardName},
			{Name: "Task", Value: ic.item.Name},
			{Name: "Start Date", Value: ic.item.StartDate.In(loc).Format(layout), Inline: true},
			{Name: "Due Date", Value: ic.item.EndDate.In(loc).Format(layout), Inline: true},
			{Name: "Days Left", Value: fmt.Sprintf("%d days", DaysLeft(ic.item, ic.now, loc))},
			{Name: "Assigned Users", Value: strings.Join(names, ", ")},
		},
		Footer: Footer,
	}
	if len(ic.collage) > 0 {
		p.Image = &Attachment{Name: CollageFileName, Data: ic.collage}
	}
	return p
}

// FieldValue returns the value of the named field, or "" if absent.
func (p Payload) FieldValue(name string) string {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}
