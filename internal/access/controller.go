// Package access реализует протокол выдачи и отзыва доступа к закрытому
// каналу. Контроллер не хранит состояния: каждое решение опирается на
// журнал, а результат внешнего вызова возвращается явным статусом,
// чтобы вызывающий мог отличить no-op от сбоя.
package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/telegram"
)

// Status результат операции над членством.
type Status int

const (
	// StatusDone операция выполнена: участник добавлен, приглашение
	// доставлено или членство отозвано.
	StatusDone Status = iota
	// StatusNoop участник уже находился в требуемом состоянии.
	StatusNoop
	// StatusFailed операция не удалась, включая таймаут; повтор выполнит
	// следующая плановая проверка.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusNoop:
		return "noop"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Directory операции внешнего справочника участников канала.
type Directory interface {
	AddChatMember(ctx context.Context, chatID, userID int64) error
	CreateChatInviteLink(ctx context.Context, chatID int64, memberLimit int, expireAt time.Time) (string, error)
	BanChatMember(ctx context.Context, chatID, userID int64) error
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
}

// InviteSender доставляет ссылку-приглашение пользователю.
type InviteSender interface {
	SendAccessInvite(ctx context.Context, telegramID int64, link string)
}

// Controller выполняет выдачу и отзыв членства в канале.
type Controller struct {
	directory   Directory
	invites     InviteSender
	log         *slog.Logger
	channelID   int64
	inviteTTL   time.Duration
	settleDelay time.Duration
	callTimeout time.Duration
}

// New создает новый Controller.
func New(directory Directory, invites InviteSender, log *slog.Logger,
	channelID int64, inviteTTL, settleDelay, callTimeout time.Duration) *Controller {
	return &Controller{
		directory:   directory,
		invites:     invites,
		log:         log,
		channelID:   channelID,
		inviteTTL:   inviteTTL,
		settleDelay: settleDelay,
		callTimeout: callTimeout,
	}
}

// Grant добавляет пользователя в канал. Если прямое добавление отклонено
// (например, настройками приватности), создается одноразовая ссылка с
// ограниченным сроком жизни и доставляется пользователю. Повторный вызов
// для уже состоящего в канале пользователя — no-op.
func (c *Controller) Grant(ctx context.Context, telegramID int64) (Status, error) {
	const op = "access.Grant"

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	err := c.directory.AddChatMember(callCtx, c.channelID, telegramID)
	cancel()
	if err == nil {
		c.log.Info("added member to channel", slog.Int64("telegram_id", telegramID))
		return StatusDone, nil
	}
	if errors.Is(err, telegram.ErrAlreadyMember) {
		return StatusNoop, nil
	}
	c.log.Warn("direct add rejected, falling back to invite link",
		slog.Int64("telegram_id", telegramID), sl.Err(err))

	callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
	link, err := c.directory.CreateChatInviteLink(callCtx, c.channelID, 1, time.Now().Add(c.inviteTTL))
	cancel()
	if err != nil {
		c.log.Error("failed to create invite link", sl.Op(op),
			slog.Int64("telegram_id", telegramID), sl.Err(err))
		return StatusFailed, err
	}

	c.invites.SendAccessInvite(ctx, telegramID, link)
	c.log.Info("delivered invite link", slog.Int64("telegram_id", telegramID))
	return StatusDone, nil
}

// Revoke удаляет пользователя из канала и после паузы снимает бан, чтобы
// пользователь не оказался заблокирован навсегда и мог вернуться по новому
// приглашению. Отзыв не состоящего в канале пользователя — no-op.
func (c *Controller) Revoke(ctx context.Context, telegramID int64) (Status, error) {
	const op = "access.Revoke"

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	err := c.directory.BanChatMember(callCtx, c.channelID, telegramID)
	cancel()
	if errors.Is(err, telegram.ErrNotMember) {
		return StatusNoop, nil
	}
	if err != nil {
		c.log.Error("failed to remove member", sl.Op(op),
			slog.Int64("telegram_id", telegramID), sl.Err(err))
		return StatusFailed, err
	}

	// Справочнику нужна пауза между удалением и снятием бана.
	select {
	case <-ctx.Done():
		return StatusFailed, ctx.Err()
	case <-time.After(c.settleDelay):
	}

	callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
	err = c.directory.UnbanChatMember(callCtx, c.channelID, telegramID)
	cancel()
	if err != nil && !errors.Is(err, telegram.ErrNotMember) {
		c.log.Error("failed to restore removability", sl.Op(op),
			slog.Int64("telegram_id", telegramID), sl.Err(err))
		return StatusFailed, err
	}

	c.log.Info("removed member from channel", slog.Int64("telegram_id", telegramID))
	return StatusDone, nil
}
