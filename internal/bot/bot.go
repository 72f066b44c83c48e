// Package bot реализует long poll цикл Bot API: команды пользователей,
// inline-кнопки и админские команды управления подписками.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/config"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/models"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/services/events"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/telegram"
)

// Число дней, выдаваемых командой /add_user.
const manualGrantDays = 30

// Пауза перед повтором после ошибки long poll.
const pollRetryDelay = 3 * time.Second

// API методы Bot API, используемые циклом обновлений.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWithMarkup(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	SendVideo(ctx context.Context, chatID int64, fileID, caption string) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string, showAlert bool) error
}

// EventService операции над подписками, доступные из чата.
type EventService interface {
	Start(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error)
	RequestTrial(ctx context.Context, telegramID int64) error
	ExtendSubscription(ctx context.Context, telegramID int64, days int) error
}

// SubscriptionLister постраничный список действующих подписок.
type SubscriptionLister interface {
	ListActiveSubscriptions(ctx context.Context, limit, offset int) ([]*models.MemberSubscription, error)
}

// Bot обрабатывает обновления Bot API.
type Bot struct {
	api      API
	events   EventService
	subs     SubscriptionLister
	sessions *Sessions
	cfg      *config.Config
	log      *slog.Logger
}

// New создает новый Bot.
func New(api API, eventsSvc EventService, subs SubscriptionLister, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		events:   eventsSvc,
		subs:     subs,
		sessions: NewSessions(),
		cfg:      cfg,
		log:      log,
	}
}

// Run крутит long poll до отмены контекста. Ошибки получения обновлений
// логируются, цикл продолжается после паузы.
func (b *Bot) Run(ctx context.Context) {
	var offset int64
	for {
		updates, err := b.api.GetUpdates(ctx, offset, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error("failed to get updates", sl.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		for _, upd := range updates {
			offset = upd.UpdateID + 1
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd telegram.Update) {
	switch {
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	if msg.From == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}
	if b.cfg.IsAdmin(msg.From.ID) {
		b.handlePendingOp(ctx, msg, text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, text string) {
	fields := strings.Fields(text)
	command := fields[0]
	args := fields[1:]

	switch command {
	case "/start":
		b.handleStart(ctx, msg)
		return
	}

	// Админские команды от остальных пользователей молча игнорируются.
	if !b.cfg.IsAdmin(msg.From.ID) {
		return
	}

	switch command {
	case "/admin":
		b.reply(ctx, msg.Chat.ID,
			"Команды администратора:\n"+
				"/add_user <telegram_id> — выдать доступ вручную\n"+
				"/extend <telegram_id> <дней> — продлить подписку\n"+
				"/list_subs [страница] — действующие подписки")
	case "/add_user":
		if len(args) == 0 {
			b.sessions.Arm(msg.From.ID, OpAddUser)
			b.reply(ctx, msg.Chat.ID, "Отправьте telegram id пользователя (или «отмена»)")
			return
		}
		b.addUser(ctx, msg.Chat.ID, args[0])
	case "/extend":
		if len(args) < 2 {
			b.sessions.Arm(msg.From.ID, OpExtend)
			b.reply(ctx, msg.Chat.ID, "Отправьте: <telegram_id> <дней> (или «отмена»)")
			return
		}
		b.extend(ctx, msg.Chat.ID, args[0], args[1])
	case "/list_subs":
		page := 1
		if len(args) > 0 {
			if p, err := strconv.Atoi(args[0]); err == nil && p > 0 {
				page = p
			}
		}
		b.listSubscriptions(ctx, msg.Chat.ID, page)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *telegram.Message) {
	user, isNew, err := b.events.Start(ctx, msg.From.ID, msg.From.Username, msg.From.FirstName)
	if err != nil {
		b.log.Error("failed to register user", sl.Err(err))
		b.reply(ctx, msg.Chat.ID, "Что-то пошло не так, попробуйте позже")
		return
	}

	if isNew && b.cfg.WelcomeVideoFileID != "" {
		if err = b.api.SendVideo(ctx, msg.Chat.ID, b.cfg.WelcomeVideoFileID,
			"Добро пожаловать! Короткое видео о канале"); err != nil {
			b.log.Error("failed to send welcome video", sl.Err(err))
		}
	}

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "Пробный период", CallbackData: "trial"}},
			{{Text: "Оплатить подписку", CallbackData: "subscribe"}},
		},
	}
	greeting := fmt.Sprintf("Привет, %s! Выберите действие:", msg.From.FirstName)
	if user.TrialUsed {
		greeting = fmt.Sprintf("С возвращением, %s! Выберите действие:", msg.From.FirstName)
	}
	if err = b.api.SendMessageWithMarkup(ctx, msg.Chat.ID, greeting, markup); err != nil {
		b.log.Error("failed to send start menu", sl.Err(err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	switch cb.Data {
	case "trial":
		err := b.events.RequestTrial(ctx, cb.From.ID)
		switch {
		case errors.Is(err, events.ErrTrialAlreadyUsed):
			b.answerCallback(ctx, cb.ID, "Пробный период уже использован", true)
		case err != nil:
			b.log.Error("failed to activate trial", sl.Err(err))
			b.answerCallback(ctx, cb.ID, "Не получилось, попробуйте позже", true)
		default:
			b.answerCallback(ctx, cb.ID, "", false)
		}
	case "subscribe":
		b.answerCallback(ctx, cb.ID, "Оплата скоро появится, следите за новостями", true)
	default:
		b.answerCallback(ctx, cb.ID, "", false)
	}
}

// handlePendingOp завершает отложенную операцию администратора по его
// следующему сообщению.
func (b *Bot) handlePendingOp(ctx context.Context, msg *telegram.Message, text string) {
	op := b.sessions.Take(msg.From.ID)
	if op == OpNone {
		return
	}
	if strings.EqualFold(text, "отмена") || strings.EqualFold(text, "cancel") {
		b.reply(ctx, msg.Chat.ID, "Операция отменена")
		return
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		b.reply(ctx, msg.Chat.ID, "Пустое сообщение, операция отменена")
		return
	}
	switch op {
	case OpAddUser:
		b.addUser(ctx, msg.Chat.ID, fields[0])
	case OpExtend:
		if len(fields) < 2 {
			b.reply(ctx, msg.Chat.ID, "Нужно два значения: <telegram_id> <дней>")
			return
		}
		b.extend(ctx, msg.Chat.ID, fields[0], fields[1])
	}
}

func (b *Bot) addUser(ctx context.Context, chatID int64, rawID string) {
	telegramID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		b.reply(ctx, chatID, "Некорректный telegram id")
		return
	}

	if _, _, err = b.events.Start(ctx, telegramID, "", ""); err != nil {
		b.log.Error("failed to register user for manual grant", sl.Err(err))
		b.reply(ctx, chatID, "Не удалось выдать доступ")
		return
	}
	if err = b.events.ExtendSubscription(ctx, telegramID, manualGrantDays); err != nil {
		b.log.Error("failed to grant access manually", sl.Err(err))
		b.reply(ctx, chatID, "Не удалось выдать доступ")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Доступ выдан пользователю %d на %d дней", telegramID, manualGrantDays))
}

func (b *Bot) extend(ctx context.Context, chatID int64, rawID, rawDays string) {
	telegramID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		b.reply(ctx, chatID, "Некорректный telegram id")
		return
	}
	days, err := strconv.Atoi(rawDays)
	if err != nil || days <= 0 {
		b.reply(ctx, chatID, "Некорректное число дней")
		return
	}

	if err = b.events.ExtendSubscription(ctx, telegramID, days); err != nil {
		b.log.Error("failed to extend subscription", sl.Err(err))
		b.reply(ctx, chatID, "Не удалось продлить подписку")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Подписка пользователя %d продлена на %d дней", telegramID, days))
}

func (b *Bot) listSubscriptions(ctx context.Context, chatID int64, page int) {
	limit := b.cfg.PageSize
	offset := (page - 1) * limit

	subs, err := b.subs.ListActiveSubscriptions(ctx, limit, offset)
	if err != nil {
		b.log.Error("failed to list subscriptions", sl.Err(err))
		b.reply(ctx, chatID, "Не удалось получить список")
		return
	}
	if len(subs) == 0 {
		b.reply(ctx, chatID, fmt.Sprintf("Страница %d пуста", page))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Действующие подписки, страница %d:\n", page)
	for _, sub := range subs {
		fmt.Fprintf(&sb, "%d — до %s\n", sub.TelegramID, sub.ExpiresAt.Format("2006-01-02"))
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.api.SendMessage(ctx, chatID, text); err != nil {
		b.log.Error("failed to send reply", sl.Err(err))
	}
}

func (b *Bot) answerCallback(ctx context.Context, callbackID, text string, showAlert bool) {
	if err := b.api.AnswerCallbackQuery(ctx, callbackID, text, showAlert); err != nil {
		b.log.Error("failed to answer callback", sl.Err(err))
	}
}
