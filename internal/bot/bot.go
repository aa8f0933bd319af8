// Package bot is the Telegram front end: it long-polls updates, resolves the
// user, forwards input to the dialog engine, and feeds the resulting traces
// through the rendering pipeline. All work for one user runs on that user's
// serial queue.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flowbridge/flowbridge/internal/engine"
	"github.com/flowbridge/flowbridge/internal/render"
	"github.com/flowbridge/flowbridge/internal/trace"
)

const (
	apologyText      = "Sorry, something went wrong. Please try again."
	voiceUnsupported = "Sorry, I can't listen to voice messages yet. Please type instead."
	expiredChoice    = "That option has expired. Please ask again."
)

// Transcriber converts a voice note into text. Speech-to-text itself is an
// external collaborator; the default implementation declines.
type Transcriber interface {
	Transcribe(ctx context.Context, fileURL string) (string, error)
}

// ErrTranscriptionUnavailable is returned by the no-op transcriber.
var ErrTranscriptionUnavailable = errors.New("transcription unavailable")

type noopTranscriber struct{}

func (noopTranscriber) Transcribe(context.Context, string) (string, error) {
	return "", ErrTranscriptionUnavailable
}

// Config tunes the bot front end.
type Config struct {
	// Streaming selects SSE interactions over buffered ones.
	Streaming bool
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
}

// Bot owns the Telegram API handle and the pipeline entry points.
type Bot struct {
	cfg         Config
	api         *tgbotapi.BotAPI
	sink        *Sink
	engine      *engine.Client
	queue       *render.UserQueue
	streamer    *render.Streamer
	dispatcher  *render.Dispatcher
	codec       *Codec
	transcriber Transcriber
	logger      *slog.Logger
}

func New(log *slog.Logger, cfg Config, api *tgbotapi.BotAPI, sink *Sink, client *engine.Client, queue *render.UserQueue, streamer *render.Streamer, dispatcher *render.Dispatcher, codec *Codec, transcriber Transcriber) *Bot {
	if log == nil {
		log = slog.Default()
	}
	if transcriber == nil {
		transcriber = noopTranscriber{}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	return &Bot{
		cfg:         cfg,
		api:         api,
		sink:        sink,
		engine:      client,
		queue:       queue,
		streamer:    streamer,
		dispatcher:  dispatcher,
		codec:       codec,
		transcriber: transcriber,
		logger:      log.With(slog.String("component", "bot")),
	}
}

// Run long-polls updates until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(updateConfig)
	b.logger.Info("long polling started", slog.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("updates channel closed")
				return nil
			}
			b.route(ctx, update)
		}
	}
}

func (b *Bot) route(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Voice != nil:
		b.handleVoice(ctx, update.Message)
	case update.Message != nil && strings.TrimSpace(update.Message.Text) != "":
		b.handleText(ctx, update.Message)
	}
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	action := engine.TextAction(text)
	if text == "/start" {
		action = engine.LaunchAction()
	}
	b.logger.Info("inbound message", slog.Int64("user_id", userID), slog.Int("length", len(text)))
	b.interact(ctx, userID, chatID, action)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	userID := cb.From.ID
	chatID := userID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}
	// Ack first so the client stops its spinner regardless of the outcome.
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Warn("callback ack failed", slog.Any("error", err))
	}
	action, ok := b.codec.Decode(userID, cb.Data)
	if !ok {
		b.reply(chatID, expiredChoice)
		return
	}
	b.logger.Info("inbound callback", slog.Int64("user_id", userID))
	b.interact(ctx, userID, chatID, action)
}

func (b *Bot) handleVoice(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	fileURL, err := b.api.GetFileDirectURL(msg.Voice.FileID)
	if err != nil {
		b.logger.Warn("voice file url failed", slog.Int64("user_id", userID), slog.Any("error", err))
		b.reply(chatID, apologyText)
		return
	}
	text, err := b.transcriber.Transcribe(ctx, fileURL)
	if err != nil {
		if !errors.Is(err, ErrTranscriptionUnavailable) {
			b.logger.Warn("transcription failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		b.reply(chatID, voiceUnsupported)
		return
	}
	b.interact(ctx, userID, chatID, engine.TextAction(text))
}

// interact runs one engine round on the user's serial queue: typing ping,
// engine call, live streaming through the state machine, then full replay
// through the dispatcher once the stream ends.
func (b *Bot) interact(ctx context.Context, userID, chatID int64, action engine.Action) {
	b.queue.Do(userID, func() {
		b.sink.Typing(chatID)
		engineUserID := engineUserKey(userID)

		var traces []trace.Trace
		var err error
		if b.cfg.Streaming {
			traces, err = b.engine.InteractStream(ctx, engineUserID, action, func(t trace.Trace) error {
				if t.IsCompletion() {
					if t.Payload.State == trace.CompletionContent {
						b.streamer.NoteContentQueued(userID)
					}
					b.streamer.Handle(ctx, userID, chatID, t)
				}
				return nil
			})
		} else {
			traces, err = b.engine.Interact(ctx, engineUserID, action)
		}
		if err != nil {
			b.logger.Error("interaction failed", slog.Int64("user_id", userID), slog.Any("error", err))
			b.reply(chatID, apologyText)
			return
		}
		b.dispatcher.Dispatch(ctx, userID, chatID, traces)
	})
}

// reply sends plain text outside the rendering pipeline, used for apologies
// and service notices.
func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("reply failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func engineUserKey(userID int64) string {
	return "tg-" + strconv.FormatInt(userID, 10)
}
