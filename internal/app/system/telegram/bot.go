// internal/app/system/telegram/bot.go
// Package telegram is the external confirmation channel: it delivers login
// codes with approve/reject buttons and handles account linking messages.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Callback data prefixes carried by the inline buttons.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Sender is the subset of the Bot API used to talk to users.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot sends messages to linked chats.
type Bot struct {
	api Sender
	log *zap.Logger
}

// NewBot wraps api.
func NewBot(api Sender, logger *zap.Logger) *Bot {
	return &Bot{api: api, log: logger}
}

// SendLoginCode delivers code to chatID with buttons that approve or reject
// the challenge without typing the code.
func (b *Bot) SendLoginCode(ctx context.Context, chatID int64, challengeID, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Код для входа: %s\nВведите его на сайте или подтвердите вход кнопкой ниже.", code))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Подтвердить вход", CallbackData(ActionApprove, challengeID)),
			tgbotapi.NewInlineKeyboardButtonData("Отклонить вход", CallbackData(ActionReject, challengeID)),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send login code: %w", err)
	}
	return nil
}

// Reply sends a plain text message.
func (b *Bot) Reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn("telegram reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// AnswerCallback stops the button spinner in the client.
func (b *Bot) AnswerCallback(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Debug("telegram callback answer failed", zap.Error(err))
	}
}

// CallbackData encodes an inline button payload.
func CallbackData(action, challengeID string) string {
	return action + ":" + challengeID
}

// ParseCallbackData splits a payload produced by CallbackData.
func ParseCallbackData(data string) (action, challengeID string, ok bool) {
	action, challengeID, found := strings.Cut(data, ":")
	if !found || challengeID == "" {
		return "", "", false
	}
	if action != ActionApprove && action != ActionReject {
		return "", "", false
	}
	return action, challengeID, true
}
