package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/models"
)

// CreateOrGetUser создаёт пользователя при первом контакте либо возвращает
// существующую запись. Идемпотентность по telegram id обеспечивается
// уникальным ограничением: при гонке вставку выполнит ровно один вызов,
// и только он получит isNew = true.
func (s *Storage) CreateOrGetUser(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error) {
	const op = "storage.CreateOrGetUser"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (telegram_id, username, first_name)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (telegram_id) DO NOTHING
			  RETURNING id, telegram_id, username, first_name, trial_used, created_at`
	u := &models.User{}
	err := s.DB.QueryRowContext(ctx, query, telegramID, username, firstName).Scan(
		&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.TrialUsed, &u.CreatedAt)
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	// Вставка не выполнилась: запись уже существует.
	u, err = s.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return u, false, nil
}

// GetUserByTelegramID возвращает пользователя по его telegram id.
func (s *Storage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUserByTelegramID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, telegram_id, username, first_name, trial_used, created_at
			  FROM users
			  WHERE telegram_id = $1`
	u := &models.User{}
	row := s.DB.QueryRowContext(ctx, query, telegramID)
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName,
		&u.TrialUsed, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// MarkTrialUsed помечает пробный период использованным. Повторный вызов
// для уже помеченного пользователя — no-op, не ошибка.
func (s *Storage) MarkTrialUsed(ctx context.Context, userID int64) error {
	const op = "storage.MarkTrialUsed"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET trial_used = TRUE WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindLapsedMembers возвращает пользователей, у которых есть хотя бы одна
// истекшая подписка и нет ни одного действующего окна доступа. Используется
// восстановительным проходом проверки: отзыв для них безопасно повторять.
func (s *Storage) FindLapsedMembers(ctx context.Context) ([]*models.Member, error) {
	const op = "storage.FindLapsedMembers"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT DISTINCT u.id, u.telegram_id
			  FROM users u
			  JOIN subscriptions s ON s.user_id = u.id
			  WHERE s.status = 'expired'
			    AND NOT EXISTS (
			        SELECT 1 FROM subscriptions v
			        WHERE v.user_id = u.id
			          AND v.status = 'active'
			          AND v.expires_at > now()
			    )`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Member
	for rows.Next() {
		var m models.Member
		if err = rows.Scan(&m.UserID, &m.TelegramID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
