package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/models"
)

// CreatePayment сохраняет подтвержденный платеж и возвращает его ID.
// Уникальное ограничение на charge_id — жесткое требование схемы:
// повторное событие с тем же charge id вернет ErrPaymentExists
// и не породит второго продления подписки.
func (s *Storage) CreatePayment(ctx context.Context, payment models.Payment) (int64, error) {
	const op = "storage.CreatePayment"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (charge_id, user_id, amount, months, status)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		payment.ChargeID, payment.UserID, payment.Amount, payment.Months, payment.Status).Scan(&newID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%s: %w", op, ErrPaymentExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}
