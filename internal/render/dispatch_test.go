package render

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/flowbridge/flowbridge/internal/trace"
)

// passthroughCodec maps button labels straight to callback data.
type passthroughCodec struct{}

func (passthroughCodec) Encode(ctx context.Context, userID int64, b trace.Button) (Button, error) {
	if b.URL != "" {
		return Button{Label: b.Name, URL: b.URL}, nil
	}
	return Button{Label: b.Name, Data: b.Name}, nil
}

func testDispatcherConfig() DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	cfg.AttachRetryDelay = time.Millisecond
	return cfg
}

func newTestDispatcher(sink Sink, mediaSender MediaSender, streamer *Streamer, tracker *Tracker) *Dispatcher {
	return NewDispatcher(nil, testDispatcherConfig(), sink, mediaSender, streamer, tracker, passthroughCodec{})
}

func textTrace(message string) trace.Trace {
	return trace.Trace{Type: trace.TypeText, Payload: trace.Payload{Message: message}}
}

func choiceTrace(labels ...string) trace.Trace {
	buttons := make([]trace.Button, len(labels))
	for i, label := range labels {
		buttons[i] = trace.Button{Name: label}
	}
	return trace.Trace{Type: trace.TypeChoice, Payload: trace.Payload{Buttons: buttons}}
}

func TestDispatchTextChoicePairAttachesKeyboard(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	tracker := NewTracker()
	d := newTestDispatcher(sink, &fakeMedia{}, nil, tracker)

	d.Dispatch(context.Background(), 1, 1, []trace.Trace{
		textTrace("Pick one."),
		choiceTrace("Yes", "No"),
	})

	sends := sink.sentTexts()
	if len(sends) != 1 || sends[0] != "Pick one." {
		t.Fatalf("sends=%v", sends)
	}
	kbs := sink.keyboardsFor(1)
	if len(kbs) != 1 {
		t.Fatalf("keyboard edits=%d want=1", len(kbs))
	}
	want := []Button{{Label: "Yes", Data: "Yes"}, {Label: "No", Data: "No"}}
	if !reflect.DeepEqual(kbs[0], want) {
		t.Fatalf("keyboard=%+v want=%+v", kbs[0], want)
	}
	ref, ok := tracker.Last(1)
	if !ok || ref.Keyboard != KeyboardChoice {
		t.Fatalf("tracked ref=%+v", ref)
	}
}

func TestDispatchChoiceWithoutTextSendsPrompt(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	d := newTestDispatcher(sink, &fakeMedia{}, nil, NewTracker())

	d.Dispatch(context.Background(), 2, 2, []trace.Trace{choiceTrace("A")})

	sends := sink.sentTexts()
	if len(sends) != 1 || sends[0] != "Choose an option:" {
		t.Fatalf("sends=%v", sends)
	}
}

func TestDispatchChoiceNeverStealsCardKeyboard(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	tracker := NewTracker()
	tracker.Set(3, MessageRef{ChatID: 3, MessageID: 99, Keyboard: KeyboardCard})
	d := newTestDispatcher(sink, &fakeMedia{}, nil, tracker)

	d.Dispatch(context.Background(), 3, 3, []trace.Trace{choiceTrace("A")})

	if kbs := sink.keyboardsFor(99); len(kbs) != 0 {
		t.Fatalf("card keyboard overwritten: %+v", kbs)
	}
	sends := sink.sentTexts()
	if len(sends) != 1 || sends[0] != "Choose an option:" {
		t.Fatalf("sends=%v want standalone prompt", sends)
	}
}

func TestDispatchSuppressesStreamedDuplicate(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	streamerSink := newFakeSink()
	streamer := NewStreamer(nil, testStreamerConfig(), streamerSink, &fakeMedia{}, NewTracker(), nil)
	ctx := context.Background()
	streamer.Handle(ctx, 4, 4, completionFrame(trace.CompletionStart, ""))
	streamer.Handle(ctx, 4, 4, completionFrame(trace.CompletionContent, "Streamed answer."))
	streamer.Handle(ctx, 4, 4, completionFrame(trace.CompletionEnd, ""))

	d := newTestDispatcher(sink, &fakeMedia{}, streamer, NewTracker())
	d.Dispatch(ctx, 4, 4, []trace.Trace{textTrace("Streamed answer.")})

	if sends := sink.sentTexts(); len(sends) != 0 {
		t.Fatalf("duplicate rendered again: %v", sends)
	}
}

func TestDispatchVisualSendsMedia(t *testing.T) {
	t.Parallel()

	mediaSender := &fakeMedia{}
	d := newTestDispatcher(newFakeSink(), mediaSender, nil, NewTracker())

	d.Dispatch(context.Background(), 5, 5, []trace.Trace{
		{Type: trace.TypeVisual, Payload: trace.Payload{Image: "https://x.com/v.png"}},
	})

	if got := mediaSender.sent(); len(got) != 1 || got[0] != "https://x.com/v.png" {
		t.Fatalf("media=%v", got)
	}
}

func TestDispatchCarouselRendersEachCard(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	mediaSender := &fakeMedia{}
	d := newTestDispatcher(sink, mediaSender, nil, NewTracker())

	d.Dispatch(context.Background(), 6, 6, []trace.Trace{
		{Type: trace.TypeCarousel, Payload: trace.Payload{Cards: []trace.Card{
			{Title: "One", Description: trace.Text{Value: "first"}, ImageURL: "https://x.com/1.png"},
			{Title: "Two", Description: trace.Text{Value: "second"}},
		}}},
	})

	if got := mediaSender.sent(); len(got) != 1 || got[0] != "https://x.com/1.png" {
		t.Fatalf("media=%v", got)
	}
	sends := sink.sentTexts()
	if len(sends) != 2 {
		t.Fatalf("sends=%v want two card bodies", sends)
	}
	if sends[0] != "<b>One</b>\nfirst" || sends[1] != "<b>Two</b>\nsecond" {
		t.Fatalf("bodies=%v", sends)
	}
}

func TestDispatchCardKeyboardMarkedAsCard(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	tracker := NewTracker()
	d := newTestDispatcher(sink, &fakeMedia{}, nil, tracker)

	d.Dispatch(context.Background(), 7, 7, []trace.Trace{
		{Type: trace.TypeCard, Payload: trace.Payload{
			Title:   "Card",
			Buttons: []trace.Button{{Name: "Go"}},
		}},
	})

	ref, ok := tracker.Last(7)
	if !ok || ref.Keyboard != KeyboardCard {
		t.Fatalf("tracked ref=%+v want card keyboard", ref)
	}
}

func TestExtractSyntheticButtons(t *testing.T) {
	t.Parallel()

	body, buttons := ExtractSyntheticButtons("Pick below.\n[[First]]\n[[ Second ]]")
	if body != "Pick below." {
		t.Fatalf("body=%q", body)
	}
	if len(buttons) != 2 || buttons[0].Name != "First" || buttons[1].Name != "Second" {
		t.Fatalf("buttons=%+v", buttons)
	}

	body, buttons = ExtractSyntheticButtons("no buttons here [[inline]] stays")
	if body != "no buttons here [[inline]] stays" || buttons != nil {
		t.Fatalf("inline marker extracted: body=%q buttons=%v", body, buttons)
	}
}

func TestDispatchSyntheticButtonsMergeIntoFollowingChoice(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	d := newTestDispatcher(sink, &fakeMedia{}, nil, NewTracker())

	d.Dispatch(context.Background(), 8, 8, []trace.Trace{
		textTrace("Options:\n[[Extra]]"),
		choiceTrace("Base"),
	})

	sends := sink.sentTexts()
	if len(sends) != 1 || sends[0] != "Options:" {
		t.Fatalf("sends=%v", sends)
	}
	kbs := sink.keyboardsFor(1)
	if len(kbs) != 1 {
		t.Fatalf("keyboard edits=%d want=1", len(kbs))
	}
	want := []Button{{Label: "Base", Data: "Base"}, {Label: "Extra", Data: "Extra"}}
	if !reflect.DeepEqual(kbs[0], want) {
		t.Fatalf("keyboard=%+v want=%+v", kbs[0], want)
	}
}

// countingCodec records how many times each label gets encoded. Encoding may
// stash a payload, so the dispatcher must encode each button exactly once.
type countingCodec struct {
	counts map[string]int
}

func (c *countingCodec) Encode(ctx context.Context, userID int64, b trace.Button) (Button, error) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[b.Name]++
	return Button{Label: b.Name, Data: b.Name}, nil
}

func TestDispatchEncodesEachButtonOnce(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		traces []trace.Trace
	}{
		{name: "paired with text", traces: []trace.Trace{textTrace("Pick one."), choiceTrace("Yes", "No")}},
		{name: "standalone choice", traces: []trace.Trace{choiceTrace("Yes", "No")}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			codec := &countingCodec{}
			d := NewDispatcher(nil, testDispatcherConfig(), newFakeSink(), &fakeMedia{}, nil, NewTracker(), codec)

			d.Dispatch(context.Background(), 10, 10, tc.traces)

			for label, n := range codec.counts {
				if n != 1 {
					t.Fatalf("button %q encoded %d times", label, n)
				}
			}
			if len(codec.counts) != 2 {
				t.Fatalf("counts=%v want both buttons encoded", codec.counts)
			}
		})
	}
}

func TestDispatchKeyboardAttachRetriesOnce(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sink.kbErr = context.DeadlineExceeded
	tracker := NewTracker()
	d := newTestDispatcher(sink, &fakeMedia{}, nil, tracker)

	d.Dispatch(context.Background(), 9, 9, []trace.Trace{
		textTrace("Pick one."),
		choiceTrace("A"),
	})

	// Both attempts failed; the tracked message keeps no keyboard.
	ref, ok := tracker.Last(9)
	if !ok || ref.Keyboard != KeyboardNone {
		t.Fatalf("ref=%+v want no keyboard after failed attach", ref)
	}
}
