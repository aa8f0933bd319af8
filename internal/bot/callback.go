package bot

import (
	"context"
	"strings"

	"github.com/flowbridge/flowbridge/internal/engine"
	"github.com/flowbridge/flowbridge/internal/render"
	"github.com/flowbridge/flowbridge/internal/stash"
	"github.com/flowbridge/flowbridge/internal/trace"
)

// Callback-data wire format. Telegram caps callback data at 64 bytes; two
// reserved prefixes distinguish a stash token and an inline serialized
// request from a literal payload string.
const (
	stashPrefix      = "s:"
	inlinePrefix     = "r:"
	maxCallbackBytes = 64
)

// Codec encodes engine buttons to callback data and decodes pressed buttons
// back into engine actions. It implements render.ButtonCodec.
type Codec struct {
	stash *stash.Stash
}

func NewCodec(s *stash.Stash) *Codec {
	return &Codec{stash: s}
}

// Encode maps a button to its wire form: URL buttons pass through; requests
// inline when they fit, stash otherwise; bare labels ride as literal text.
func (c *Codec) Encode(ctx context.Context, userID int64, b trace.Button) (render.Button, error) {
	if b.URL != "" {
		return render.Button{Label: b.Name, URL: b.URL}, nil
	}
	if len(b.Request) == 0 {
		data := b.Name
		if len(data) > maxCallbackBytes {
			data = stashPrefix + c.stash.Put(userID, data)
		}
		return render.Button{Label: b.Name, Data: data}, nil
	}
	inline := inlinePrefix + string(b.Request)
	if len(inline) <= maxCallbackBytes {
		return render.Button{Label: b.Name, Data: inline}, nil
	}
	return render.Button{Label: b.Name, Data: stashPrefix + c.stash.Put(userID, string(b.Request))}, nil
}

// Decode turns pressed callback data into an engine action. Stash tokens are
// redeemed single-use and owner-checked; an expired or foreign token returns
// ok=false. Malformed payloads degrade to literal text input.
func (c *Codec) Decode(userID int64, data string) (engine.Action, bool) {
	switch {
	case strings.HasPrefix(data, stashPrefix):
		payload, ok := c.stash.Take(strings.TrimPrefix(data, stashPrefix), userID)
		if !ok {
			return engine.Action{}, false
		}
		return engine.ActionFromRaw([]byte(payload)), true
	case strings.HasPrefix(data, inlinePrefix):
		return engine.ActionFromRaw([]byte(strings.TrimPrefix(data, inlinePrefix))), true
	default:
		return engine.TextAction(data), true
	}
}
