package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NoticeKind classifies a user-facing notice.
type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeWarning NoticeKind = "warning"
	NoticeError   NoticeKind = "error"
)

// Notice is a toast (timed, non-blocking) or a dialog (blocking until
// dismissed by the UI).
type Notice struct {
	ID      string     `json:"id"`
	Kind    NoticeKind `json:"kind"`
	Title   string     `json:"title"`
	Text    string     `json:"text,omitempty"`
	Dialog  bool       `json:"dialog"`
	At      time.Time  `json:"at"`
	Expires *time.Time `json:"expires,omitempty"`
}

// Presenter shows notices to the user and asks for confirmations.
type Presenter interface {
	Toast(kind NoticeKind, title string, d time.Duration)
	Dialog(kind NoticeKind, title, text string)
	// Confirm asks a yes/no question. The default answer is no.
	Confirm(ctx context.Context, prompt string) bool
}

// Confirmer answers a confirmation prompt.
type Confirmer func(ctx context.Context, prompt string) bool

// Confirmed is a Confirmer for callers that already obtained consent.
func Confirmed(context.Context, string) bool { return true }

// Feed is a Presenter that records notices in a bounded ring so a UI can
// poll them. Its Confirm always declines.
type Feed struct {
	mu    sync.Mutex
	items []Notice
	limit int
	now   func() time.Time
}

// NewFeed returns a feed keeping the last limit notices.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 50
	}
	return &Feed{limit: limit, now: time.Now}
}

// Toast records a timed notice.
func (f *Feed) Toast(kind NoticeKind, title string, d time.Duration) {
	at := f.now()
	exp := at.Add(d)
	f.push(Notice{Kind: kind, Title: title, At: at, Expires: &exp})
}

// Dialog records a blocking notice.
func (f *Feed) Dialog(kind NoticeKind, title, text string) {
	f.push(Notice{Kind: kind, Title: title, Text: text, Dialog: true, At: f.now()})
}

// Confirm declines; destructive actions need explicit consent through a
// different Confirmer.
func (f *Feed) Confirm(context.Context, string) bool { return false }

func (f *Feed) push(n Notice) {
	n.ID = uuid.NewString()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append([]Notice(nil), f.items[over:]...)
	}
}

// Active returns dialogs plus toasts that have not expired, oldest first.
func (f *Feed) Active() []Notice {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notice, 0, len(f.items))
	for _, n := range f.items {
		if n.Expires != nil && !n.Expires.After(now) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Dismiss removes a notice by id, reporting whether it existed.
func (f *Feed) Dismiss(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.items {
		if n.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return true
		}
	}
	return false
}
