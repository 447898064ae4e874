// Package sessionid derives the conversation identifiers passed to the webhook.
//
// A persistent identifier is keyed by the UTC calendar date so that every
// request made by the same user on the same day lands in one conversation.
// An ephemeral identifier is keyed by a millisecond timestamp and backs the
// "new chat" action.
package sessionid

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

const prefix = "user_"

// ErrEmailRequired is returned when no email is supplied.
var ErrEmailRequired = errors.New("email is required")

var emailReplacer = strings.NewReplacer("@", "_", ".", "_")

// SanitizeEmail substitutes every '@' and '.' with '_'.
func SanitizeEmail(email string) string {
	return emailReplacer.Replace(strings.TrimSpace(email))
}

// Persistent returns the identifier of the user's conversation for the UTC day of t.
func Persistent(email string, t time.Time) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", ErrEmailRequired
	}
	return prefix + SanitizeEmail(email) + "_" + t.UTC().Format(time.DateOnly), nil
}

// Ephemeral returns a one-off identifier keyed by the millisecond timestamp of t.
func Ephemeral(email string, t time.Time) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", ErrEmailRequired
	}
	return prefix + SanitizeEmail(email) + "_" + strconv.FormatInt(t.UnixMilli(), 10), nil
}

// IsPersistent reports whether id is the persistent identifier of email for the day of t.
func IsPersistent(email, id string, t time.Time) bool {
	today, err := Persistent(email, t)
	return err == nil && today == id
}

// BelongsTo reports whether id was derived from email, either as a
// persistent or an ephemeral identifier.
func BelongsTo(email, id string) bool {
	if strings.TrimSpace(email) == "" {
		return false
	}
	rest, ok := strings.CutPrefix(id, prefix+SanitizeEmail(email)+"_")
	if !ok || rest == "" {
		return false
	}
	if _, err := time.Parse(time.DateOnly, rest); err == nil {
		return true
	}
	_, err := strconv.ParseUint(rest, 10, 64)
	return err == nil
}

// Deriver wraps the derivation functions with a clock and makes ephemeral
// identifiers strictly increasing within the process.
type Deriver struct {
	now func() time.Time

	mu       sync.Mutex
	lastMill int64
}

// NewDeriver returns a Deriver; a nil clock defaults to time.Now.
func NewDeriver(now func() time.Time) *Deriver {
	if now == nil {
		now = time.Now
	}
	return &Deriver{now: now}
}

// Now exposes the deriver clock.
func (d *Deriver) Now() time.Time {
	return d.now()
}

// Today returns the persistent identifier for email.
func (d *Deriver) Today(email string) (string, error) {
	return Persistent(email, d.now())
}

// New returns a fresh ephemeral identifier for email.
func (d *Deriver) New(email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", ErrEmailRequired
	}

	d.mu.Lock()
	millis := d.now().UnixMilli()
	if millis <= d.lastMill {
		millis = d.lastMill + 1
	}
	d.lastMill = millis
	d.mu.Unlock()

	return Ephemeral(email, time.UnixMilli(millis))
}
