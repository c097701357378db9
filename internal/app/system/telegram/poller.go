// internal/app/system/telegram/poller.go
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/normalize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Replies sent back to the chat.
const (
	msgLinked          = "Аккаунт %s успешно привязан! Теперь подтвердите почту на сайте."
	msgUserNotFound    = "Пользователь с указанным email не найден."
	msgNotAnEmail      = "Отправьте свой email, чтобы привязать аккаунт."
	msgApproved        = "Вход подтверждён! Возвращайтесь на сайт."
	msgRejected        = "Вход отклонён."
	msgChallengeGone   = "Запрос на вход не найден или уже просрочен."
	msgAlreadyHandled  = "Запрос на вход уже обработан."
	msgForeignRequest  = "Этот запрос на вход относится к другому аккаунту."
	msgInternalFailure = "Произошла ошибка. Попробуйте позже."
)

// Handler performs the account operations the bot triggers.
type Handler interface {
	LinkChannel(ctx context.Context, email string, chatID int64) error
	ApproveExternal(ctx context.Context, challengeID string, chatID int64) error
	RejectExternal(ctx context.Context, challengeID string, chatID int64) error
}

// UpdateSource is the long-poll side of the Bot API.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poller long-polls for updates and routes them to the Handler.
type Poller struct {
	src     UpdateSource
	bot     *Bot
	handler Handler
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewPoller creates a poller. timeout is the long-poll wait per request.
func NewPoller(src UpdateSource, bot *Bot, handler Handler, logger *zap.Logger, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Poller{src: src, bot: bot, handler: handler, log: logger, timeout: timeout}
}

// Start begins polling.
func (p *Poller) Start() {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(p.timeout / time.Second)
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	updates := p.src.GetUpdatesChan(cfg)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for u := range updates {
			p.HandleUpdate(context.Background(), u)
		}
	}()
	p.log.Info("telegram poller started", zap.Duration("timeout", p.timeout))
}

// Stop ends polling and waits for the in-flight update.
func (p *Poller) Stop() {
	p.src.StopReceivingUpdates()
	p.wg.Wait()
	p.log.Info("telegram poller stopped")
}

// HandleUpdate routes one update.
func (p *Poller) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch {
	case u.CallbackQuery != nil:
		p.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Text != "":
		p.handleText(ctx, u.Message)
	}
}

func (p *Poller) handleText(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	if m.IsCommand() {
		p.bot.Reply(chatID, msgNotAnEmail)
		return
	}
	email := normalize.Email(m.Text)
	if !strings.Contains(email, "@") {
		p.bot.Reply(chatID, msgNotAnEmail)
		return
	}

	err := p.handler.LinkChannel(ctx, email, chatID)
	switch {
	case err == nil:
		p.bot.Reply(chatID, fmt.Sprintf(msgLinked, email))
	case apperr.KindOf(err) == apperr.KindNotFound:
		p.bot.Reply(chatID, msgUserNotFound)
	default:
		p.log.Error("link channel failed", zap.Int64("chat_id", chatID), zap.Error(err))
		p.bot.Reply(chatID, msgInternalFailure)
	}
}

func (p *Poller) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	action, challengeID, ok := ParseCallbackData(q.Data)
	if !ok || q.Message == nil || q.Message.Chat == nil {
		p.bot.AnswerCallback(q.ID, "")
		return
	}
	chatID := q.Message.Chat.ID

	var err error
	reply := msgApproved
	if action == ActionApprove {
		err = p.handler.ApproveExternal(ctx, challengeID, chatID)
	} else {
		err = p.handler.RejectExternal(ctx, challengeID, chatID)
		reply = msgRejected
	}
	if err != nil {
		reply = callbackFailure(err)
		if reply == msgInternalFailure {
			p.log.Error("login callback failed",
				zap.String("action", action),
				zap.String("challenge_id", challengeID),
				zap.Error(err))
		}
	}
	p.bot.AnswerCallback(q.ID, "")
	p.bot.Reply(chatID, reply)
}

func callbackFailure(err error) string {
	ae, ok := apperr.As(err)
	if !ok {
		return msgInternalFailure
	}
	switch ae.Kind {
	case apperr.KindNotFound, apperr.KindAuthentication:
		return msgChallengeGone
	case apperr.KindStateConflict:
		return msgAlreadyHandled
	case apperr.KindAuthorization:
		return msgForeignRequest
	}
	return msgInternalFailure
}
