package models

import "time"

// Статусы подписки. Переход допустим только active -> expired.
const (
	SubscriptionActive  = "active"
	SubscriptionExpired = "expired"
)

// Subscription представляет одно окно доступа к закрытому каналу.
// Продление создает новую запись, а не изменяет старую, поэтому
// у пользователя может быть несколько пересекающихся окон.
type Subscription struct {
	ID        int64     // Внутренний идентификатор
	UserID    int64     // Владелец подписки
	ExpiresAt time.Time // Момент окончания доступа
	Status    string    // active или expired
	CreatedAt time.Time // Момент создания записи
}

// MemberSubscription объединяет подписку с telegram id владельца,
// чтобы проверка подписок не делала отдельный запрос за пользователем.
type MemberSubscription struct {
	SubscriptionID int64
	UserID         int64
	TelegramID     int64
	ExpiresAt      time.Time
}

// Member пользователь с истекшей подпиской без единого действующего окна.
type Member struct {
	UserID     int64
	TelegramID int64
}
