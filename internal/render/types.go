// Package render turns dialog-engine traces into a coherent sequence of chat
// messages: it coalesces streamed completion frames into an edited-in-place
// bubble, splits text around embedded images, and tracks which message
// currently owns an attached keyboard.
package render

import (
	"context"
	"sync"
)

// KeyboardKind classifies the keyboard attached to a message.
type KeyboardKind int

const (
	KeyboardNone KeyboardKind = iota
	KeyboardChoice
	KeyboardCard
)

// MessageRef identifies one sent message. Exactly one ref per user is the
// "last bot message" at any time; it is overwritten on every send and on
// every keyboard attach.
type MessageRef struct {
	ChatID    int64
	MessageID int
	Keyboard  KeyboardKind
}

// Button is a renderable inline button. Data is the callback payload already
// encoded to the platform wire format; URL buttons carry URL instead.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Sink is the outbound message surface the renderers draw on. Implementations
// absorb the platform's benign errors (edit-to-unchanged, message-not-found).
type Sink interface {
	SendText(ctx context.Context, chatID int64, html string, buttons []Button) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, html string) error
	EditKeyboard(ctx context.Context, ref MessageRef, buttons []Button) error
}

// MediaSender resolves a content URL to a native media message. The media
// package provides the production implementation with its cache and
// fallback chain.
type MediaSender interface {
	SendMedia(ctx context.Context, chatID int64, url, caption string) (MessageRef, error)
}

// Tracker records the last bot message per user so later traces (a choice
// attaching buttons, a card replacing the slot) know their target.
type Tracker struct {
	mu   sync.Mutex
	refs map[int64]MessageRef
}

func NewTracker() *Tracker {
	return &Tracker{refs: make(map[int64]MessageRef)}
}

// Last returns the current last bot message for the user.
func (t *Tracker) Last(userID int64) (MessageRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.refs[userID]
	return ref, ok
}

// Set overwrites the last bot message for the user.
func (t *Tracker) Set(userID int64, ref MessageRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs[userID] = ref
}

// SetKeyboard updates the keyboard kind of the tracked message, keeping the
// same target. Used after a keyboard-only edit.
func (t *Tracker) SetKeyboard(userID int64, kind KeyboardKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ref, ok := t.refs[userID]; ok {
		ref.Keyboard = kind
		t.refs[userID] = ref
	}
}

// Forget drops the tracked message for the user.
func (t *Tracker) Forget(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.refs, userID)
}
