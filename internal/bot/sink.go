package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flowbridge/flowbridge/internal/media"
	"github.com/flowbridge/flowbridge/internal/render"
)

const maxMessageLength = 4096

// Sink adapts the Telegram API to the rendering pipeline's message surface.
// It implements render.Sink and media.Sender.
type Sink struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

func NewSink(log *slog.Logger, api *tgbotapi.BotAPI) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{api: api, logger: log.With(slog.String("component", "sink"))}
}

// send pushes one message, honoring a single 429 retry-after pause.
func (s *Sink) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, err := s.api.Send(c)
	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		s.logger.Warn("rate limited, retrying", slog.Int("retry_after_s", apiErr.RetryAfter))
		time.Sleep(time.Duration(apiErr.RetryAfter) * time.Second)
		msg, err = s.api.Send(c)
	}
	return msg, err
}

// SendText implements render.Sink.
func (s *Sink) SendText(ctx context.Context, chatID int64, html string, buttons []render.Button) (render.MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(html)))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	kind := render.KeyboardNone
	if len(buttons) > 0 {
		msg.ReplyMarkup = inlineKeyboard(buttons)
		kind = render.KeyboardChoice
	}
	sent, err := s.send(msg)
	if err != nil {
		return render.MessageRef{}, err
	}
	return render.MessageRef{ChatID: chatID, MessageID: sent.MessageID, Keyboard: kind}, nil
}

// EditText implements render.Sink. Edit-to-unchanged-content and
// message-not-found are absorbed as success: both mean the visible state is
// already as good as it gets.
func (s *Sink) EditText(ctx context.Context, ref render.MessageRef, html string) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, truncateText(sanitizeText(html)))
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := s.send(edit)
	if isBenignEditError(err) {
		return nil
	}
	return err
}

// EditKeyboard implements render.Sink.
func (s *Sink) EditKeyboard(ctx context.Context, ref render.MessageRef, buttons []render.Button) error {
	markup := inlineKeyboard(buttons)
	edit := tgbotapi.NewEditMessageReplyMarkup(ref.ChatID, ref.MessageID, markup)
	_, err := s.send(edit)
	if isBenignEditError(err) {
		return nil
	}
	return err
}

// SendCached implements media.Sender using a previously issued file_id.
func (s *Sink) SendCached(ctx context.Context, chatID int64, kind media.Kind, fileID, caption string) (render.MessageRef, string, error) {
	return s.sendMedia(chatID, kind, tgbotapi.FileID(fileID), caption)
}

// SendByURL implements media.Sender handing the URL to Telegram directly.
func (s *Sink) SendByURL(ctx context.Context, chatID int64, kind media.Kind, url, caption string) (render.MessageRef, string, error) {
	return s.sendMedia(chatID, kind, tgbotapi.FileURL(url), caption)
}

// SendBytes implements media.Sender uploading a downloaded buffer.
func (s *Sink) SendBytes(ctx context.Context, chatID int64, kind media.Kind, name string, data []byte, caption string) (render.MessageRef, string, error) {
	return s.sendMedia(chatID, kind, tgbotapi.FileBytes{Name: name, Bytes: data}, caption)
}

// SendPlainText implements media.Sender's last-resort fallback.
func (s *Sink) SendPlainText(ctx context.Context, chatID int64, text string) (render.MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, truncateText(text))
	sent, err := s.send(msg)
	if err != nil {
		return render.MessageRef{}, err
	}
	return render.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

func (s *Sink) sendMedia(chatID int64, kind media.Kind, file tgbotapi.RequestFileData, caption string) (render.MessageRef, string, error) {
	var sent tgbotapi.Message
	var err error
	switch kind {
	case media.KindAnimation:
		animation := tgbotapi.NewAnimation(chatID, file)
		animation.Caption = caption
		sent, err = s.send(animation)
	case media.KindDocument:
		document := tgbotapi.NewDocument(chatID, file)
		document.Caption = caption
		sent, err = s.send(document)
	default:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		sent, err = s.send(photo)
	}
	if err != nil {
		return render.MessageRef{}, "", err
	}
	ref := render.MessageRef{ChatID: chatID, MessageID: sent.MessageID}
	return ref, extractFileID(sent), nil
}

// extractFileID pulls the platform-issued handle out of a sent message for
// cache reuse.
func extractFileID(msg tgbotapi.Message) string {
	if msg.Animation != nil {
		return msg.Animation.FileID
	}
	if msg.Document != nil {
		return msg.Document.FileID
	}
	if len(msg.Photo) > 0 {
		return pickPhoto(msg.Photo).FileID
	}
	return ""
}

func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// Typing sends the typing chat action; failures are logged, never returned.
func (s *Sink) Typing(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := s.api.Request(action); err != nil {
		s.logger.Warn("typing action failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func inlineKeyboard(buttons []render.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		if btn.URL != "" {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(btn.Label, btn.URL)))
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func isBenignEditError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 400 && strings.Contains(apiErr.Message, "message is not modified") {
			return true
		}
		if apiErr.Code == 400 && strings.Contains(apiErr.Message, "message to edit not found") {
			return true
		}
	}
	return false
}

// sanitizeText strips invalid byte sequences that can appear at streaming
// chunk boundaries.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText cuts at the platform ceiling on a rune boundary.
func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
