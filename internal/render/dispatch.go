package render

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/flowbridge/flowbridge/internal/trace"
)

// ButtonCodec encodes an engine button into platform callback data. The bot
// package implements it over the stash for oversized payloads.
type ButtonCodec interface {
	Encode(ctx context.Context, userID int64, b trace.Button) (Button, error)
}

// DispatcherConfig tunes trace replay.
type DispatcherConfig struct {
	// AttachRetryDelay is the pause before the single keyboard-attach retry.
	AttachRetryDelay time.Duration
	// ChoicePrompt is the text of a standalone choice message when no
	// rendered message can take the keyboard.
	ChoicePrompt string
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		AttachRetryDelay: 700 * time.Millisecond,
		ChoicePrompt:     "Choose an option:",
	}
}

// Dispatcher replays a full trace list, in emission order, into the sink
// once the stream has ended. Adjacent text→choice pairs render as one unit:
// the keyboard lands on the text's message instead of a separate prompt.
type Dispatcher struct {
	cfg      DispatcherConfig
	sink     Sink
	media    MediaSender
	streamer *Streamer
	tracker  *Tracker
	codec    ButtonCodec
	logger   *slog.Logger
}

func NewDispatcher(log *slog.Logger, cfg DispatcherConfig, sink Sink, media MediaSender, streamer *Streamer, tracker *Tracker, codec ButtonCodec) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		media:    media,
		streamer: streamer,
		tracker:  tracker,
		codec:    codec,
		logger:   log.With(slog.String("component", "dispatcher")),
	}
}

// Synthetic buttons embedded in completion text, one per line: [[Label]]
var syntheticButtonRe = regexp.MustCompile(`(?m)^[ \t]*\[\[(.+?)\]\][ \t]*$`)

// ExtractSyntheticButtons removes [[Label]] lines from text and returns the
// remaining text plus the extracted buttons.
func ExtractSyntheticButtons(text string) (string, []trace.Button) {
	var buttons []trace.Button
	for _, m := range syntheticButtonRe.FindAllStringSubmatch(text, -1) {
		label := strings.TrimSpace(m[1])
		if label != "" {
			buttons = append(buttons, trace.Button{Name: label})
		}
	}
	if len(buttons) == 0 {
		return text, nil
	}
	return strings.TrimSpace(syntheticButtonRe.ReplaceAllString(text, "")), buttons
}

// Dispatch walks the trace list and routes each trace to its renderer.
// Completion traces were already handled live by the streamer and are
// skipped here.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, chatID int64, traces []trace.Trace) {
	var carried []trace.Button
	for i := 0; i < len(traces); i++ {
		t := traces[i]
		switch t.Type {
		case trace.TypeCompletion, trace.TypeEnd:
			continue
		case trace.TypeText:
			consumed := d.dispatchText(ctx, userID, chatID, t, nextChoice(traces, i), &carried)
			if consumed {
				i++
			}
		case trace.TypeChoice:
			buttons := append(append([]trace.Button(nil), t.Payload.Buttons...), carried...)
			carried = nil
			d.dispatchChoice(ctx, userID, chatID, buttons)
		case trace.TypeVisual:
			if url := strings.TrimSpace(t.Payload.Image); url != "" {
				d.sendMedia(ctx, userID, chatID, url, "")
			}
		case trace.TypeCard, trace.TypeCardV2:
			d.renderCard(ctx, userID, chatID, trace.Card{
				Title:       t.Payload.Title,
				Description: t.Payload.Description,
				ImageURL:    t.Payload.ImageURL,
				Buttons:     t.Payload.Buttons,
			})
		case trace.TypeCarousel:
			for _, card := range t.Payload.Cards {
				d.renderCard(ctx, userID, chatID, card)
			}
		default:
			d.logger.Debug("unhandled trace type", slog.String("type", string(t.Type)))
		}
	}
	// Synthetic buttons with no choice trace to merge into attach directly.
	if len(carried) > 0 {
		d.dispatchChoice(ctx, userID, chatID, carried)
	}
}

func nextChoice(traces []trace.Trace, i int) *trace.Trace {
	if i+1 < len(traces) && traces[i+1].Type == trace.TypeChoice {
		return &traces[i+1]
	}
	return nil
}

// dispatchText renders a text trace and, when the next trace is a choice,
// attaches its keyboard to the text's message. Returns true when the
// following choice trace was consumed as part of the pair.
func (d *Dispatcher) dispatchText(ctx context.Context, userID, chatID int64, t trace.Trace, choice *trace.Trace, carried *[]trace.Button) bool {
	message := t.Payload.Message
	body, synthetic := ExtractSyntheticButtons(message)

	if d.streamer != nil && d.streamer.RecentlyRendered(userID, message) {
		// Already rendered live this turn; only the synthetic buttons survive.
		if len(synthetic) > 0 {
			if choice != nil {
				*carried = append(*carried, synthetic...)
				return false
			}
			d.dispatchChoice(ctx, userID, chatID, synthetic)
		}
		return false
	}

	lastRef, rendered := d.renderTextOneShot(ctx, userID, chatID, body)
	if choice == nil {
		if len(synthetic) > 0 {
			d.dispatchChoice(ctx, userID, chatID, synthetic)
		}
		return false
	}

	buttons := append(append([]trace.Button(nil), choice.Payload.Buttons...), synthetic...)
	encoded := d.encodeButtons(ctx, userID, buttons)
	if rendered && lastRef.Keyboard != KeyboardCard {
		d.attachKeyboard(ctx, userID, lastRef, encoded, KeyboardChoice)
	} else {
		// No message of our own, or the slot holds a card whose buttons must
		// survive: the keyboard gets a standalone message.
		d.dispatchEncoded(ctx, userID, chatID, encoded)
	}
	return true
}

// renderTextOneShot segments and renders text immediately, without the
// streaming debounce. Returns the ref of the last message produced.
func (d *Dispatcher) renderTextOneShot(ctx context.Context, userID, chatID int64, text string) (MessageRef, bool) {
	var last MessageRef
	rendered := false
	for _, seg := range SplitSegments(text) {
		switch seg.Kind {
		case SegmentImage:
			if ref, ok := d.sendMedia(ctx, userID, chatID, seg.Value, ""); ok {
				last = ref
				rendered = true
			}
		case SegmentText:
			html := ToHTML(seg.Value)
			if html == "" {
				continue
			}
			ref, err := d.sink.SendText(ctx, chatID, html, nil)
			if err != nil {
				d.logger.Warn("text trace send failed", slog.Int64("user_id", userID), slog.Any("error", err))
				continue
			}
			d.tracker.Set(userID, ref)
			last = ref
			rendered = true
		}
	}
	return last, rendered
}

// dispatchChoice encodes buttons and routes them to a keyboard target.
func (d *Dispatcher) dispatchChoice(ctx context.Context, userID, chatID int64, buttons []trace.Button) {
	d.dispatchEncoded(ctx, userID, chatID, d.encodeButtons(ctx, userID, buttons))
}

// dispatchEncoded attaches already-encoded buttons to the tracked last
// message, or sends a standalone prompt when no safe target exists. Buttons
// are encoded exactly once upstream; encoding may stash a payload, so a
// second pass would orphan the first token.
func (d *Dispatcher) dispatchEncoded(ctx context.Context, userID, chatID int64, encoded []Button) {
	if len(encoded) == 0 {
		return
	}
	if ref, ok := d.tracker.Last(userID); ok && ref.Keyboard != KeyboardCard {
		d.attachKeyboard(ctx, userID, ref, encoded, KeyboardChoice)
		return
	}
	ref, err := d.sink.SendText(ctx, chatID, ToHTML(d.cfg.ChoicePrompt), encoded)
	if err != nil {
		d.logger.Warn("choice send failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	ref.Keyboard = KeyboardChoice
	d.tracker.Set(userID, ref)
}

// renderCard renders one card: its image first, then a body message carrying
// the buttons. A card always produces its own message(s).
func (d *Dispatcher) renderCard(ctx context.Context, userID, chatID int64, card trace.Card) {
	var imageRef MessageRef
	hasImage := false
	if url := strings.TrimSpace(card.ImageURL); url != "" {
		imageRef, hasImage = d.sendMedia(ctx, userID, chatID, url, card.Title)
	}

	body := cardBody(card)
	if body != "" {
		buttons := d.encodeButtons(ctx, userID, card.Buttons)
		ref, err := d.sink.SendText(ctx, chatID, body, buttons)
		if err != nil {
			d.logger.Warn("card send failed", slog.Int64("user_id", userID), slog.Any("error", err))
			return
		}
		if len(buttons) > 0 {
			ref.Keyboard = KeyboardCard
		}
		d.tracker.Set(userID, ref)
		return
	}
	if hasImage && card.HasButtons() {
		d.attachKeyboard(ctx, userID, imageRef, d.encodeButtons(ctx, userID, card.Buttons), KeyboardCard)
	}
}

func cardBody(card trace.Card) string {
	var parts []string
	if title := strings.TrimSpace(card.Title); title != "" {
		parts = append(parts, "<b>"+ToHTML(title)+"</b>")
	}
	if desc := strings.TrimSpace(card.Description.Value); desc != "" {
		parts = append(parts, ToHTML(desc))
	}
	return strings.Join(parts, "\n")
}

// attachKeyboard performs a keyboard-only edit, retrying exactly once after a
// short delay. Attachment is best-effort, never fatal.
func (d *Dispatcher) attachKeyboard(ctx context.Context, userID int64, ref MessageRef, encoded []Button, kind KeyboardKind) {
	if len(encoded) == 0 {
		return
	}
	err := d.sink.EditKeyboard(ctx, ref, encoded)
	if err != nil {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.AttachRetryDelay):
		}
		err = d.sink.EditKeyboard(ctx, ref, encoded)
	}
	if err != nil {
		d.logger.Warn("keyboard attach failed", slog.Int64("user_id", userID), slog.Int("message_id", ref.MessageID), slog.Any("error", err))
		return
	}
	ref.Keyboard = kind
	d.tracker.Set(userID, ref)
}

// sendMedia routes one image URL through the resolver and tracks the result.
func (d *Dispatcher) sendMedia(ctx context.Context, userID, chatID int64, url, caption string) (MessageRef, bool) {
	ref, err := d.media.SendMedia(ctx, chatID, url, caption)
	if err != nil {
		d.logger.Warn("media send failed", slog.Int64("user_id", userID), slog.String("url", url), slog.Any("error", err))
		return MessageRef{}, false
	}
	d.tracker.Set(userID, ref)
	return ref, true
}

func (d *Dispatcher) encodeButtons(ctx context.Context, userID int64, buttons []trace.Button) []Button {
	encoded := make([]Button, 0, len(buttons))
	for _, b := range buttons {
		if strings.TrimSpace(b.Name) == "" {
			continue
		}
		out, err := d.codec.Encode(ctx, userID, b)
		if err != nil {
			d.logger.Warn("button encode failed", slog.String("label", b.Name), slog.Any("error", err))
			continue
		}
		encoded = append(encoded, out)
	}
	return encoded
}
