// Package repository реализует журнал подписок на основе PostgreSQL —
// единственный источник истины о том, есть ли у пользователя доступ
// к закрытому каналу. Предоставляет методы работы с пользователями,
// подписками и платежами.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Ошибки уровня хранилища.
var (
	// ErrUserNotFound возвращается, когда пользователь отсутствует в журнале.
	ErrUserNotFound = errors.New("user not found")
	// ErrPaymentExists возвращается при повторном charge id платежа.
	// Это точка, в которой обеспечивается идемпотентность обработки оплат.
	ErrPaymentExists = errors.New("payment already recorded")
)

// Storage инкапсулирует соединение с базой данных PostgreSQL
// и реализует методы работы с журналом.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables 
        WHERE table_name = 'subscriptions'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table subscriptions missing or query error: %w", err)
	}
	return nil
}
