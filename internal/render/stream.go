package render

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flowbridge/flowbridge/internal/trace"
)

// StreamerConfig tunes the streamed-bubble behavior.
type StreamerConfig struct {
	// MinEditInterval is the minimum gap between two edits of the live bubble.
	MinEditInterval time.Duration
	// DebounceDelay is the trailing-edge delay applied when an edit arrives
	// inside the MinEditInterval window.
	DebounceDelay time.Duration
	// MinFirstRunes is the minimum rendered length before the first bubble is
	// created at all.
	MinFirstRunes int
	// LongFirstRunes creates the first bubble even without terminal
	// punctuation once the text grows past this length.
	LongFirstRunes int
	// RecentWindow bounds duplicate-text suppression after stream end.
	RecentWindow time.Duration
}

// DefaultStreamerConfig mirrors the tuning the bot ships with.
func DefaultStreamerConfig() StreamerConfig {
	return StreamerConfig{
		MinEditInterval: 1200 * time.Millisecond,
		DebounceDelay:   500 * time.Millisecond,
		MinFirstRunes:   4,
		LongFirstRunes:  60,
		RecentWindow:    30 * time.Second,
	}
}

// completionState is the per-user streaming state. All fields except
// touchedAt are mutated only from the user's serial queue.
type completionState struct {
	chatID        int64
	target        *MessageRef
	lastMarkup    string
	lastEditAt    time.Time
	pendingMarkup string
	accumulated   string
	streaming     bool
	hasContent    bool
	endedAt       time.Time
	sentImages    map[string]struct{}
	finalized     int
	queuedContent int
	touchedAt     time.Time
}

// Streamer coalesces completion traces into one edited-in-place bubble per
// user, freezing the bubble whenever an embedded image interrupts the text.
// Handle and Flush must run on the user's serial queue; the debounce timer
// re-enters through the enqueue hook for the same reason.
type Streamer struct {
	cfg     StreamerConfig
	sink    Sink
	media   MediaSender
	tracker *Tracker
	sched   *Scheduler
	enqueue func(userID int64, task func())
	logger  *slog.Logger

	statesMu sync.Mutex
	states   map[int64]*completionState
}

// NewStreamer creates a Streamer. enqueue routes deferred debounce flushes
// back onto the caller's per-user queue; nil runs them inline.
func NewStreamer(log *slog.Logger, cfg StreamerConfig, sink Sink, media MediaSender, tracker *Tracker, enqueue func(int64, func())) *Streamer {
	if log == nil {
		log = slog.Default()
	}
	if enqueue == nil {
		enqueue = func(_ int64, task func()) { task() }
	}
	return &Streamer{
		cfg:     cfg,
		sink:    sink,
		media:   media,
		tracker: tracker,
		sched:   NewScheduler(),
		enqueue: enqueue,
		logger:  log.With(slog.String("component", "streamer")),
		states:  make(map[int64]*completionState),
	}
}

func (s *Streamer) state(userID int64) *completionState {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		st = &completionState{sentImages: make(map[string]struct{})}
		s.states[userID] = st
	}
	st.touchedAt = time.Now()
	return st
}

// NoteContentQueued records that a content frame is waiting on the user's
// queue. Handle skips the render pass for all but the newest queued frame,
// avoiding wasted edits under backpressure.
func (s *Streamer) NoteContentQueued(userID int64) {
	st := s.state(userID)
	st.queuedContent++
}

// Handle processes one completion trace for the user.
func (s *Streamer) Handle(ctx context.Context, userID, chatID int64, t trace.Trace) {
	if !t.IsCompletion() {
		return
	}
	st := s.state(userID)
	st.chatID = chatID
	switch t.Payload.State {
	case trace.CompletionStart:
		s.sched.Cancel(userID)
		st.target = nil
		st.lastMarkup = ""
		st.lastEditAt = time.Time{}
		st.pendingMarkup = ""
		st.accumulated = ""
		st.streaming = true
		st.hasContent = false
		st.endedAt = time.Time{}
		st.sentImages = make(map[string]struct{})
		st.finalized = 0
	case trace.CompletionContent:
		if st.queuedContent > 0 {
			st.queuedContent--
		}
		st.streaming = true
		st.accumulated = mergeStreamText(st.accumulated, t.CompletionText())
		if st.accumulated != "" {
			st.hasContent = true
		}
		if st.queuedContent > 0 {
			// A newer frame is already queued; it will render instead.
			return
		}
		s.renderPass(ctx, userID, st, false)
	case trace.CompletionEnd:
		st.streaming = false
		st.endedAt = time.Now()
		s.sched.Cancel(userID)
		st.pendingMarkup = ""
		if st.hasContent {
			s.renderPass(ctx, userID, st, true)
		}
	}
}

// mergeStreamText reconciles a content frame with the accumulated text. The
// engine may send cumulative snapshots or bare deltas; prefix comparison
// picks the right interpretation. Truly out-of-order non-prefix frames
// append, which can duplicate text; the heuristic has no ordering metadata
// to do better with.
func mergeStreamText(current, incoming string) string {
	if incoming == "" {
		return current
	}
	if current == "" {
		return incoming
	}
	if strings.HasPrefix(incoming, current) {
		return incoming
	}
	if strings.HasPrefix(current, incoming) {
		return current
	}
	return current + incoming
}

// renderPass walks the not-yet-finalized segments of the accumulated text.
// Every image boundary freezes the preceding text into its own message; only
// the final text segment stays editable.
func (s *Streamer) renderPass(ctx context.Context, userID int64, st *completionState, force bool) {
	segments := SplitSegments(st.accumulated)
	for i := st.finalized; i < len(segments); i++ {
		seg := segments[i]
		last := i == len(segments)-1

		if seg.Kind == SegmentImage {
			if _, sent := st.sentImages[seg.Value]; sent {
				st.finalized = i + 1
				continue
			}
			s.freezeBubble(ctx, st)
			ref, err := s.media.SendMedia(ctx, st.chatID, seg.Value, "")
			if err != nil {
				s.logger.Warn("stream image send failed", slog.Int64("user_id", userID), slog.String("url", seg.Value), slog.Any("error", err))
			} else {
				s.tracker.Set(userID, ref)
			}
			st.sentImages[seg.Value] = struct{}{}
			st.finalized = i + 1
			continue
		}

		html := ToHTML(seg.Value)
		if !last {
			// Interrupted by an upcoming image: render as finished text.
			s.finishSegment(ctx, userID, st, html)
			st.finalized = i + 1
			continue
		}

		s.renderLiveBubble(ctx, userID, st, seg.Value, html, force)
	}
}

// freezeBubble flushes the open bubble with its last-known markup and
// detaches it so it never gets edited again.
func (s *Streamer) freezeBubble(ctx context.Context, st *completionState) {
	if st.target == nil {
		return
	}
	if st.pendingMarkup != "" && st.pendingMarkup != st.lastMarkup {
		if err := s.sink.EditText(ctx, *st.target, st.pendingMarkup); err != nil {
			s.logger.Warn("bubble freeze edit failed", slog.Any("error", err))
		}
	}
	st.target = nil
	st.lastMarkup = ""
	st.pendingMarkup = ""
}

// finishSegment renders a non-final text segment exactly once: a last edit of
// the open bubble if one exists, otherwise a fresh message.
func (s *Streamer) finishSegment(ctx context.Context, userID int64, st *completionState, html string) {
	if html == "" {
		return
	}
	if st.target != nil {
		if html != st.lastMarkup {
			if err := s.sink.EditText(ctx, *st.target, html); err != nil {
				s.logger.Warn("segment finish edit failed", slog.Int64("user_id", userID), slog.Any("error", err))
			}
		}
		st.target = nil
		st.lastMarkup = ""
		st.pendingMarkup = ""
		return
	}
	ref, err := s.sink.SendText(ctx, st.chatID, html, nil)
	if err != nil {
		s.logger.Warn("segment send failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	s.tracker.Set(userID, ref)
}

func (s *Streamer) renderLiveBubble(ctx context.Context, userID int64, st *completionState, plain, html string, force bool) {
	if st.target == nil {
		if html == "" {
			return
		}
		if !force && !s.firstBubbleReady(plain) {
			return
		}
		ref, err := s.sink.SendText(ctx, st.chatID, html, nil)
		if err != nil {
			s.logger.Warn("bubble send failed", slog.Int64("user_id", userID), slog.Any("error", err))
			return
		}
		st.target = &ref
		st.lastMarkup = html
		st.lastEditAt = time.Now()
		st.pendingMarkup = html
		s.tracker.Set(userID, ref)
		return
	}

	if html == st.lastMarkup && !force {
		return
	}
	st.pendingMarkup = html
	if force || time.Since(st.lastEditAt) >= s.cfg.MinEditInterval {
		s.sched.Cancel(userID)
		s.applyEdit(ctx, userID, st, html)
		return
	}
	// Too soon: trailing-edge debounce. A newer frame just replaces the
	// pending markup; the single timer slot is reused.
	s.sched.Schedule(userID, s.cfg.DebounceDelay, func() {
		s.enqueue(userID, func() {
			s.flushPending(context.Background(), userID)
		})
	})
}

func (s *Streamer) applyEdit(ctx context.Context, userID int64, st *completionState, html string) {
	if err := s.sink.EditText(ctx, *st.target, html); err != nil {
		s.logger.Warn("bubble edit failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	st.lastMarkup = html
	st.lastEditAt = time.Now()
}

// flushPending applies the latest pending markup after a debounce delay.
func (s *Streamer) flushPending(ctx context.Context, userID int64) {
	s.statesMu.Lock()
	st, ok := s.states[userID]
	s.statesMu.Unlock()
	if !ok || st.target == nil {
		return
	}
	if st.pendingMarkup == "" || st.pendingMarkup == st.lastMarkup {
		return
	}
	s.applyEdit(ctx, userID, st, st.pendingMarkup)
}

// firstBubbleReady gates creation of the first message so users never see a
// flash of two or three words. Content qualifies once it has some length and
// either closes a sentence or simply grows long enough.
func (s *Streamer) firstBubbleReady(plain string) bool {
	trimmed := strings.TrimSpace(plain)
	runes := []rune(trimmed)
	if len(runes) < s.cfg.MinFirstRunes {
		return false
	}
	if len(runes) >= s.cfg.LongFirstRunes {
		return true
	}
	return strings.ContainsRune(".!?…", runes[len(runes)-1])
}

// RecentlyRendered reports whether the streamer already rendered exactly this
// text for the user in the current turn. The dispatcher uses it to suppress
// the duplicate text trace that follows a streamed completion.
func (s *Streamer) RecentlyRendered(userID int64, text string) bool {
	s.statesMu.Lock()
	st, ok := s.states[userID]
	s.statesMu.Unlock()
	if !ok || st.endedAt.IsZero() {
		return false
	}
	if time.Since(st.endedAt) > s.cfg.RecentWindow {
		return false
	}
	return strings.TrimSpace(st.accumulated) == strings.TrimSpace(text)
}

// EvictIdle drops per-user states idle longer than ttl and returns the count
// removed. Without this the state map grows with every user seen.
func (s *Streamer) EvictIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	removed := 0
	for userID, st := range s.states {
		if st.touchedAt.Before(cutoff) && !st.streaming {
			delete(s.states, userID)
			removed++
		}
	}
	return removed
}
