// Package models содержит доменные структуры закрытого канала:
// пользователей, подписки и платежи, а также типизированные события,
// приходящие от внешних источников (бот, платежный провайдер).
package models

import "time"

// User представляет пользователя, написавшего боту хотя бы один раз.
// Запись создается при первом контакте и никогда не удаляется.
type User struct {
	ID         int64     // Внутренний идентификатор
	TelegramID int64     // Идентификатор в Telegram (уникальный)
	Username   string    // Ник в Telegram, может быть пустым
	FirstName  string    // Имя из профиля
	TrialUsed  bool      // Использован ли пробный период
	CreatedAt  time.Time // Дата первого контакта
}
