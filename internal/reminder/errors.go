package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrPassInProgress = errors.New("reminder pass already in progress")
	ErrMalformedStyle = errors.New("style token is not a hex color")
	ErrNoAvatars      = errors.New("no avatars to compose")
	// ErrItemNotFound is wrapped by stores when a card vanished mid-pass.
	ErrItemNotFound = errors.New("item not found")
)

// ErrorKind classifies where a failure was contained.
type ErrorKind string

const (
	KindFetch        ErrorKind = "fetch"
	KindResolve      ErrorKind = "resolve"
	KindRender       ErrorKind = "render"
	KindDeliver      ErrorKind = "deliver"
	KindStyle        ErrorKind = "style"
	KindClockAdvance ErrorKind = "clock_advance"
	KindLookup       ErrorKind = "lookup"
	KindPanic        ErrorKind = "panic"
)

// PassError is a failure recorded during a pass. ItemID and Recipient are
// zero when the failure is not scoped to one.
type PassError struct {
	Kind      ErrorKind
	ItemID    int64
	Recipient RecipientID
	Err       error
}

func (e *PassError) Error() string {
	switch {
	case e.Recipient != "":
		return fmt.Sprintf("%s: item %d recipient %s: %v", e.Kind, e.ItemID, e.Recipient, e.Err)
	case e.ItemID != 0:
		return fmt.Sprintf("%s: item %d: %v", e.Kind, e.ItemID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *PassError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *PassError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var pe *PassError
	return errors.As(err, &pe) && pe.Kind == k
}
