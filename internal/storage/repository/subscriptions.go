package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/models"
)

// CreateSubscription добавляет новое окно доступа длиной duration и
// возвращает его ID. Существующие окна не ищутся и не продлеваются:
// при продлении окна могут пересекаться, это ожидаемое поведение.
func (s *Storage) CreateSubscription(ctx context.Context, userID int64, duration time.Duration) (int64, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	expiresAt := time.Now().UTC().Add(duration)
	query := `INSERT INTO subscriptions (user_id, expires_at, status)
			  VALUES ($1, $2, 'active')
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query, userID, expiresAt).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// MarkExpired переводит подписку из active в expired. Если запись уже
// expired, изменений не происходит — переход строго монотонный.
func (s *Storage) MarkExpired(ctx context.Context, subscriptionID int64) error {
	const op = "storage.MarkExpired"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'expired'
			  WHERE id = $1 AND status = 'active'`
	if _, err := s.DB.ExecContext(ctx, query, subscriptionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HasValidAccess сообщает, есть ли у пользователя хотя бы одно действующее
// окно доступа. Используется и при выдаче доступа, и при повторной проверке
// перед отзывом.
func (s *Storage) HasValidAccess(ctx context.Context, telegramID int64) (bool, error) {
	const op = "storage.HasValidAccess"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT EXISTS (
			      SELECT 1 FROM subscriptions s
			      JOIN users u ON s.user_id = u.id
			      WHERE u.telegram_id = $1
			        AND s.status = 'active'
			        AND s.expires_at > now()
			  )`
	var valid bool
	if err := s.DB.QueryRowContext(ctx, query, telegramID).Scan(&valid); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return valid, nil
}

// FindExpiredActive возвращает активные подписки, чей срок уже прошёл
// относительно переданного момента времени.
func (s *Storage) FindExpiredActive(ctx context.Context, now time.Time) ([]*models.MemberSubscription, error) {
	const op = "storage.FindExpiredActive"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT s.id, s.user_id, u.telegram_id, s.expires_at
			  FROM subscriptions s
			  JOIN users u ON s.user_id = u.id
			  WHERE s.status = 'active'
			    AND s.expires_at < $1
			  ORDER BY s.id`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.MemberSubscription
	for rows.Next() {
		var ms models.MemberSubscription
		if err = rows.Scan(&ms.SubscriptionID, &ms.UserID, &ms.TelegramID, &ms.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &ms)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// FindExpiringOn возвращает активные подписки, истекающие в указанный
// календарный день. Используется проходом напоминаний.
func (s *Storage) FindExpiringOn(ctx context.Context, day time.Time) ([]*models.MemberSubscription, error) {
	const op = "storage.FindExpiringOn"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT s.id, s.user_id, u.telegram_id, s.expires_at
			  FROM subscriptions s
			  JOIN users u ON s.user_id = u.id
			  WHERE s.status = 'active'
			    AND s.expires_at::DATE = $1::DATE
			  ORDER BY s.id`
	rows, err := s.DB.QueryContext(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.MemberSubscription
	for rows.Next() {
		var ms models.MemberSubscription
		if err = rows.Scan(&ms.SubscriptionID, &ms.UserID, &ms.TelegramID, &ms.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &ms)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListActiveSubscriptions возвращает действующие подписки с пагинацией.
// Запрос только на чтение, используется админским списком.
func (s *Storage) ListActiveSubscriptions(ctx context.Context, limit, offset int) ([]*models.MemberSubscription, error) {
	const op = "storage.ListActiveSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT s.id, s.user_id, u.telegram_id, s.expires_at
			  FROM subscriptions s
			  JOIN users u ON s.user_id = u.id
			  WHERE s.status = 'active'
			    AND s.expires_at > now()
			  ORDER BY s.expires_at
			  LIMIT $1 OFFSET $2`
	rows, err := s.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.MemberSubscription
	for rows.Next() {
		var ms models.MemberSubscription
		if err = rows.Scan(&ms.SubscriptionID, &ms.UserID, &ms.TelegramID, &ms.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &ms)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
