// Package sweeper реализует регулярную сверку журнала подписок с составом
// закрытого канала: переводит истекшие подписки в expired, отзывает доступ,
// повторяет неудавшиеся отзывы и рассылает напоминания о продлении.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/access"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/metrics"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/models"
)

// Kind тип запуска проверки.
type Kind string

const (
	// KindInterval страховочный запуск по интервалу.
	KindInterval Kind = "interval"
	// KindDaily ежедневный запуск, дополнительно рассылает напоминания.
	KindDaily Kind = "daily"
	// KindStartup разовый запуск при старте процесса.
	KindStartup Kind = "startup"
)

// Repository методы журнала, нужные проверке.
type Repository interface {
	FindExpiredActive(ctx context.Context, now time.Time) ([]*models.MemberSubscription, error)
	MarkExpired(ctx context.Context, subscriptionID int64) error
	HasValidAccess(ctx context.Context, telegramID int64) (bool, error)
	FindLapsedMembers(ctx context.Context) ([]*models.Member, error)
	FindExpiringOn(ctx context.Context, day time.Time) ([]*models.MemberSubscription, error)
}

// AccessController отзывает доступ к каналу.
type AccessController interface {
	Revoke(ctx context.Context, telegramID int64) (access.Status, error)
}

// Notifier уведомления, отправляемые проверкой.
type Notifier interface {
	SendExpiryNotice(ctx context.Context, telegramID int64, day time.Time)
	SendRenewalReminder(ctx context.Context, telegramID, subscriptionID int64, expiresAt time.Time)
}

// Service выполняет сверку подписок по двум расписаниям и один раз на старте.
type Service struct {
	repo       Repository
	access     AccessController
	notifier   Notifier
	log        *slog.Logger
	now        func() time.Time
	interval   time.Duration
	dailyHour  int
	dailyMin   int
	inProgress atomic.Bool
}

// New создает новый Service. dailyAt задается строкой вида "09:00".
func New(repo Repository, accessCtrl AccessController, notifier Notifier,
	log *slog.Logger, interval time.Duration, dailyAt string) (*Service, error) {
	const op = "sweeper.New"
	t, err := time.Parse("15:04", dailyAt)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid daily_at %q: %w", op, dailyAt, err)
	}
	return &Service{
		repo:      repo,
		access:    accessCtrl,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
		interval:  interval,
		dailyHour: t.Hour(),
		dailyMin:  t.Minute(),
	}, nil
}

// Sweep выполняет одну сверку. Повторный вход во время работающей сверки
// пропускается: проверки не реентерабельны и не должны гоняться за одними
// и теми же записями.
func (s *Service) Sweep(ctx context.Context, kind Kind) {
	if !s.inProgress.CompareAndSwap(false, true) {
		s.log.Warn("sweep already in progress, skipping", slog.String("kind", string(kind)))
		return
	}
	defer s.inProgress.Store(false)

	metrics.SweepsTotal.WithLabelValues(string(kind)).Inc()
	s.log.Info("sweep started", slog.String("kind", string(kind)))

	s.expirePass(ctx)
	s.recoveryPass(ctx, kind == KindStartup)
	if kind == KindDaily {
		s.reminderPass(ctx)
	}

	s.log.Info("sweep finished", slog.String("kind", string(kind)))
}

// expirePass переводит истекшие подписки в expired и отзывает доступ.
// Перед отзывом состояние пользователя перечитывается из журнала: если
// пользователь успел продлиться новым окном между истечением и сверкой,
// отзыв пропускается.
func (s *Service) expirePass(ctx context.Context) {
	expired, err := s.repo.FindExpiredActive(ctx, s.now())
	if err != nil {
		s.log.Error("failed to find expired subscriptions", sl.Err(err))
		return
	}

	for _, sub := range expired {
		if err := s.repo.MarkExpired(ctx, sub.SubscriptionID); err != nil {
			s.log.Error("failed to mark subscription expired",
				slog.Int64("subscription_id", sub.SubscriptionID), sl.Err(err))
			continue
		}
		metrics.SubscriptionsExpiredTotal.Inc()

		valid, err := s.repo.HasValidAccess(ctx, sub.TelegramID)
		if err != nil {
			// Состояние неизвестно — отзывать нельзя, повторит следующая сверка.
			s.log.Error("failed to re-verify access before revoke",
				slog.Int64("telegram_id", sub.TelegramID), sl.Err(err))
			continue
		}
		if valid {
			s.log.Info("user renewed in time, skipping revoke",
				slog.Int64("telegram_id", sub.TelegramID))
			continue
		}

		status, err := s.access.Revoke(ctx, sub.TelegramID)
		metrics.RevokesTotal.WithLabelValues(status.String()).Inc()
		if err != nil {
			// Журнал уже обновлен; отзыв повторит восстановительный проход.
			s.log.Error("failed to revoke access",
				slog.Int64("telegram_id", sub.TelegramID), sl.Err(err))
			continue
		}
		s.notifier.SendExpiryNotice(ctx, sub.TelegramID, s.now())
	}
}

// recoveryPass повторяет отзыв для пользователей, у которых есть истекшая
// подписка и нет действующей: сюда попадают жертвы сбоев справочника и
// падений процесса. Отзыв идемпотентен, повторять его безопасно.
func (s *Service) recoveryPass(ctx context.Context, notifyLapsed bool) {
	lapsed, err := s.repo.FindLapsedMembers(ctx)
	if err != nil {
		s.log.Error("failed to find lapsed members", sl.Err(err))
		return
	}

	for _, member := range lapsed {
		status, err := s.access.Revoke(ctx, member.TelegramID)
		metrics.RevokesTotal.WithLabelValues(status.String()).Inc()
		if err != nil {
			s.log.Error("recovery revoke failed",
				slog.Int64("telegram_id", member.TelegramID), sl.Err(err))
			continue
		}
		if notifyLapsed {
			s.notifier.SendExpiryNotice(ctx, member.TelegramID, s.now())
		}
	}
}

// reminderPass рассылает напоминания по подпискам, истекающим завтра.
// Повторные напоминания подавляет диспетчер уведомлений.
func (s *Service) reminderPass(ctx context.Context) {
	tomorrow := s.now().Add(24 * time.Hour)
	expiring, err := s.repo.FindExpiringOn(ctx, tomorrow)
	if err != nil {
		s.log.Error("failed to find subscriptions expiring tomorrow", sl.Err(err))
		return
	}

	for _, sub := range expiring {
		s.notifier.SendRenewalReminder(ctx, sub.TelegramID, sub.SubscriptionID, sub.ExpiresAt)
	}
}

// RunInterval запускает страховочную сверку по фиксированному интервалу.
func (s *Service) RunInterval(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, KindInterval)
		}
	}
}

// RunDaily запускает ежедневную сверку в настроенное время суток.
func (s *Service) RunDaily(ctx context.Context) {
	for {
		wait := s.untilNextDaily()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx, KindDaily)
		}
	}
}

// untilNextDaily возвращает время до ближайшего настроенного времени суток.
func (s *Service) untilNextDaily() time.Duration {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.dailyHour, s.dailyMin, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
