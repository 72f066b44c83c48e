// Package events содержит обработчик внешних событий: первого контакта,
// запроса пробного периода и подтвержденной оплаты. Каждое событие
// превращается в запись журнала и выдачу доступа; журнал — источник истины,
// его записи не откатываются из-за сбоев справочника.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/access"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/metrics"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/models"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/storage/repository"
)

// ErrTrialAlreadyUsed пробный период уже был использован.
var ErrTrialAlreadyUsed = errors.New("trial already used")

// Repository методы журнала, нужные обработчику событий.
type Repository interface {
	CreateOrGetUser(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	MarkTrialUsed(ctx context.Context, userID int64) error
	CreateSubscription(ctx context.Context, userID int64, duration time.Duration) (int64, error)
	CreatePayment(ctx context.Context, payment models.Payment) (int64, error)
}

// AccessController выдает доступ к каналу.
type AccessController interface {
	Grant(ctx context.Context, telegramID int64) (access.Status, error)
}

// Notifier уведомления, отправляемые обработчиком.
type Notifier interface {
	SendTrialActivated(ctx context.Context, telegramID int64, days int)
	SendPaymentAccepted(ctx context.Context, telegramID int64, months int)
}

// Service обработчик событий пробного периода и оплаты.
type Service struct {
	repo      Repository
	access    AccessController
	notifier  Notifier
	validate  *validator.Validate
	log       *slog.Logger
	trialDays int
}

// New создает новый Service.
func New(repo Repository, accessCtrl AccessController, notifier Notifier, log *slog.Logger, trialDays int) *Service {
	return &Service{
		repo:      repo,
		access:    accessCtrl,
		notifier:  notifier,
		validate:  validator.New(),
		log:       log,
		trialDays: trialDays,
	}
}

// Start создает пользователя при первом контакте либо возвращает
// существующую запись. Идемпотентно по telegram id.
func (s *Service) Start(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error) {
	user, isNew, err := s.repo.CreateOrGetUser(ctx, telegramID, username, firstName)
	if err != nil {
		return nil, false, err
	}
	if isNew {
		s.log.Info("new user registered", slog.Int64("telegram_id", telegramID))
	}
	return user, isNew, nil
}

// RequestTrial выдает пробный период. Повторный запрос отклоняется по флагу
// trial_used: флаг ставится до создания подписки, поэтому пробный период
// у пользователя может быть только один.
func (s *Service) RequestTrial(ctx context.Context, telegramID int64) error {
	const op = "events.RequestTrial"

	user, err := s.repo.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.TrialUsed {
		return ErrTrialAlreadyUsed
	}

	if err = s.repo.MarkTrialUsed(ctx, user.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err = s.repo.CreateSubscription(ctx, user.ID, time.Duration(s.trialDays)*24*time.Hour); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("trial subscription recorded",
		slog.Int64("telegram_id", telegramID), slog.Int("days", s.trialDays))

	status, err := s.access.Grant(ctx, telegramID)
	metrics.GrantsTotal.WithLabelValues(status.String()).Inc()
	if err != nil {
		// Запись в журнале сделана, доступ доберет плановая проверка.
		s.log.Error("failed to grant access after trial", sl.Err(err))
	}

	s.notifier.SendTrialActivated(ctx, telegramID, s.trialDays)
	return nil
}

// ConfirmPayment обрабатывает подтвержденную оплату. Событие проверяется
// до любой записи; повторное событие с тем же charge id не создает второго
// продления — уникальность обеспечивает журнал.
func (s *Service) ConfirmPayment(ctx context.Context, event models.PaymentEvent) error {
	const op = "events.ConfirmPayment"

	// Невалидное событие помечается как нечитаемое: повторная доставка
	// из очереди его не исправит.
	if err := s.validate.Struct(event); err != nil {
		metrics.PaymentEventsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%s: invalid payment event: %w: %v", op, rabbitmq.ErrBadMessage, err)
	}

	user, _, err := s.repo.CreateOrGetUser(ctx, event.TelegramID, "", "")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	payment := models.Payment{
		ChargeID: event.ChargeID,
		UserID:   user.ID,
		Amount:   event.Amount,
		Months:   event.Months,
		Status:   models.PaymentSucceeded,
	}
	if _, err = s.repo.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrPaymentExists) {
			s.log.Info("duplicate payment event ignored",
				slog.String("charge_id", event.ChargeID))
			metrics.PaymentEventsTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	duration := time.Duration(event.Months) * 30 * 24 * time.Hour
	if _, err = s.repo.CreateSubscription(ctx, user.ID, duration); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("paid subscription recorded",
		slog.Int64("telegram_id", event.TelegramID),
		slog.String("charge_id", event.ChargeID),
		slog.Int("months", event.Months))
	metrics.PaymentEventsTotal.WithLabelValues("processed").Inc()

	status, err := s.access.Grant(ctx, event.TelegramID)
	metrics.GrantsTotal.WithLabelValues(status.String()).Inc()
	if err != nil {
		s.log.Error("failed to grant access after payment", sl.Err(err))
	}

	s.notifier.SendPaymentAccepted(ctx, event.TelegramID, event.Months)
	return nil
}

// ExtendSubscription продлевает подписку вручную (админская операция).
func (s *Service) ExtendSubscription(ctx context.Context, telegramID int64, days int) error {
	const op = "events.ExtendSubscription"

	user, err := s.repo.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err = s.repo.CreateSubscription(ctx, user.ID, time.Duration(days)*24*time.Hour); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	status, err := s.access.Grant(ctx, telegramID)
	metrics.GrantsTotal.WithLabelValues(status.String()).Inc()
	if err != nil {
		s.log.Error("failed to grant access after manual extension", sl.Err(err))
	}
	return nil
}

// HandlePaymentMessage обработчик сообщений очереди событий оплаты.
// Нечитаемое сообщение отклоняется без каких-либо записей в журнал
// и без повторной доставки; временные сбои журнала возвращают обычную
// ошибку, и сообщение вернется в очередь.
func (s *Service) HandlePaymentMessage(body []byte) error {
	var event models.PaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.log.Error("failed to unmarshal payment event", sl.Err(err))
		metrics.PaymentEventsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("error unmarshalling message: %w: %v", rabbitmq.ErrBadMessage, err)
	}
	return s.ConfirmPayment(context.Background(), event)
}
