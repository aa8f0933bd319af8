// Package trace defines the events emitted by the dialog engine and their
// payload decoding. A trace is one renderable unit: a text bubble, a set of
// choice buttons, an image, a card, or one lifecycle frame of a streamed
// completion.
package trace

import (
	"encoding/json"
	"strings"
)

// Type discriminates trace payloads.
type Type string

const (
	TypeText       Type = "text"
	TypeChoice     Type = "choice"
	TypeVisual     Type = "visual"
	TypeCard       Type = "card"
	TypeCardV2     Type = "cardV2"
	TypeCarousel   Type = "carousel"
	TypeCompletion Type = "completion"
	TypeEnd        Type = "end"
)

// Completion lifecycle states carried by TypeCompletion traces.
const (
	CompletionStart   = "start"
	CompletionContent = "content"
	CompletionEnd     = "end"
)

// Trace is a single engine event in emission order.
type Trace struct {
	Type    Type    `json:"type"`
	Payload Payload `json:"payload"`
}

// Payload is the union of all trace payload shapes. Only the fields relevant
// to the trace's Type are populated.
type Payload struct {
	// Text, card and completion traces.
	Message string `json:"message,omitempty"`

	// Completion lifecycle: start | content | end.
	State string `json:"state,omitempty"`
	// Completion delta or cumulative snapshot, engine-dependent.
	Completion string `json:"completion,omitempty"`

	// Choice traces and buttons attached to cards.
	Buttons []Button `json:"buttons,omitempty"`

	// Visual traces.
	Image string `json:"image,omitempty"`

	// Card traces.
	Title       string `json:"title,omitempty"`
	Description Text   `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`

	// Carousel traces.
	Cards []Card `json:"cards,omitempty"`
}

// Text tolerates both a plain string and an object with a "text" field, the
// two shapes the engine uses for card descriptions.
type Text struct {
	Value string
}

func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Value = s
		return nil
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Value = obj.Text
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Value)
}

// Button is one interactive choice. Request is the opaque engine request to
// replay when the button is pressed.
type Button struct {
	Name    string          `json:"name"`
	Request json.RawMessage `json:"request,omitempty"`
	URL     string          `json:"url,omitempty"`
}

// Card is one pane of a card or carousel trace.
type Card struct {
	Title       string   `json:"title,omitempty"`
	Description Text     `json:"description,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Buttons     []Button `json:"buttons,omitempty"`
}

// HasButtons reports whether the card carries at least one named button.
func (c Card) HasButtons() bool {
	for _, b := range c.Buttons {
		if strings.TrimSpace(b.Name) != "" {
			return true
		}
	}
	return false
}

// Decode parses a raw trace record, tolerating unknown trace types (they
// round-trip with an empty payload and are skipped by the renderer).
func Decode(raw []byte) (Trace, error) {
	var t Trace
	if err := json.Unmarshal(raw, &t); err != nil {
		return Trace{}, err
	}
	return t, nil
}

// IsCompletion reports whether the trace is a streamed completion frame.
func (t Trace) IsCompletion() bool {
	return t.Type == TypeCompletion
}

// CompletionText returns the text carried by a completion content frame.
// Engines differ on the field used; Completion wins over Message.
func (t Trace) CompletionText() string {
	if t.Payload.Completion != "" {
		return t.Payload.Completion
	}
	return t.Payload.Message
}

// HasButtons reports whether the payload carries at least one named button.
func (p Payload) HasButtons() bool {
	for _, b := range p.Buttons {
		if strings.TrimSpace(b.Name) != "" {
			return true
		}
	}
	return false
}
