package models

import "time"

// PaymentSucceeded статус подтвержденного платежа.
const PaymentSucceeded = "succeeded"

// Payment представляет подтвержденный платеж. Запись создается один раз
// на каждый charge id провайдера и после этого не изменяется.
type Payment struct {
	ID        int64     // Внутренний идентификатор
	ChargeID  string    // Идентификатор платежа у провайдера (уникальный, ключ идемпотентности)
	UserID    int64     // Плательщик
	Amount    string    // Сумма в виде строки, например "100.00"
	Months    int       // Оплаченный период в месяцах
	Status    string    // Статус платежа
	CreatedAt time.Time // Момент создания записи
}
