package models

// PaymentEvent типизированное событие подтвержденной оплаты,
// публикуемое вебхуком в очередь и потребляемое обработчиком событий.
type PaymentEvent struct {
	EventID    string `json:"event_id"`                             // Идентификатор конверта сообщения
	ChargeID   string `json:"charge_id" validate:"required"`        // Идентификатор платежа у провайдера
	TelegramID int64  `json:"telegram_id" validate:"required,gt=0"` // Получатель доступа
	Months     int    `json:"months" validate:"required,gt=0"`      // Оплаченный период в месяцах
	Amount     string `json:"amount" validate:"required"`           // Сумма платежа
}
