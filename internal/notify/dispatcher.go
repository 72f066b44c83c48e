// Package notify реализует диспетчер исходящих уведомлений.
// Доставка выполняется по принципу «отправил и забыл»: ошибки логируются
// и проглатываются, вызывающий никогда не блокируется и не получает отказ.
// Повторные отправки подавляются одноразовыми отметками в Redis.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/lib/sl"
)

// markerTTL время жизни отметки о доставленном уведомлении. Больше суток,
// чтобы покрыть и повторный запуск проверки в тот же день, и перезапуск
// процесса.
const markerTTL = 48 * time.Hour

// Sender доставляет текстовые сообщения пользователям.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Marker хранилище одноразовых отметок. Once возвращает true, если отметка
// поставлена впервые.
type Marker interface {
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Dispatcher отправляет уведомления пользователям.
type Dispatcher struct {
	sender Sender
	marker Marker
	log    *slog.Logger
}

// New создает новый Dispatcher.
func New(sender Sender, marker Marker, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		marker: marker,
		log:    log,
	}
}

// send доставляет сообщение, проглатывая любые ошибки доставки.
func (d *Dispatcher) send(ctx context.Context, telegramID int64, text string) {
	if err := d.sender.SendMessage(ctx, telegramID, text); err != nil {
		d.log.Warn("failed to deliver notification",
			slog.Int64("telegram_id", telegramID), sl.Err(err))
	}
}

// sendOnce доставляет сообщение не чаще одного раза на ключ. Недоступность
// хранилища отметок не блокирует доставку: лучше лишнее уведомление,
// чем ни одного.
func (d *Dispatcher) sendOnce(ctx context.Context, telegramID int64, key, text string) {
	first, err := d.marker.Once(ctx, key, markerTTL)
	if err != nil {
		d.log.Warn("marker store unavailable, sending anyway",
			slog.String("key", key), sl.Err(err))
		first = true
	}
	if !first {
		return
	}
	d.send(ctx, telegramID, text)
}

// SendAccessInvite доставляет ссылку-приглашение в закрытый канал.
func (d *Dispatcher) SendAccessInvite(ctx context.Context, telegramID int64, link string) {
	d.send(ctx, telegramID, fmt.Sprintf("Ваш доступ к каналу: %s", link))
}

// SendTrialActivated сообщает об активации пробного периода.
func (d *Dispatcher) SendTrialActivated(ctx context.Context, telegramID int64, days int) {
	d.send(ctx, telegramID,
		fmt.Sprintf("✅ Пробный период на %d дня(ей) активирован!\nВы получили доступ к закрытому каналу.", days))
}

// SendPaymentAccepted сообщает о зачислении оплаты.
func (d *Dispatcher) SendPaymentAccepted(ctx context.Context, telegramID int64, months int) {
	d.send(ctx, telegramID,
		fmt.Sprintf("✅ Оплата получена, подписка продлена на %d мес.", months))
}

// SendExpiryNotice отправляет уведомление об истечении подписки,
// не чаще одного раза в сутки на пользователя.
func (d *Dispatcher) SendExpiryNotice(ctx context.Context, telegramID int64, day time.Time) {
	key := fmt.Sprintf("notice:expired:%d:%s", telegramID, day.Format("2006-01-02"))
	d.sendOnce(ctx, telegramID, key, "❌ Ваша подписка истекла.")
}

// SendRenewalReminder отправляет напоминание о продлении за день до конца
// подписки, не чаще одного раза на окно подписки в сутки.
func (d *Dispatcher) SendRenewalReminder(ctx context.Context, telegramID, subscriptionID int64, expiresAt time.Time) {
	key := fmt.Sprintf("notice:remind:%d:%s", subscriptionID, expiresAt.Format("2006-01-02"))
	d.sendOnce(ctx, telegramID, key,
		fmt.Sprintf("⏳ Ваша подписка истекает %s. Не забудьте продлить её заранее.",
			expiresAt.Format("02.01.2006")))
}
