// Package rabbitmq содержит вспомогательные функции для работы с брокером
// событий оплаты: подключение с повторами, объявление очередей,
// публикация и потребление сообщений.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// ErrBadMessage сообщение нечитаемо или невалидно: повторная доставка
// не поможет, такое сообщение отбрасывается без requeue.
var ErrBadMessage = errors.New("bad message")

// PaymentsExchange имя обменника для событий платежного провайдера.
const PaymentsExchange = "payments"

// QueueConfig описывает очередь и ключ маршрутизации для привязки.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetPaymentQueues возвращает очереди, которые слушает гейткипер.
func GetPaymentQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "payment.confirmed_queue", RoutingKey: "confirmed"},
	}
}

// Connect подключается к RabbitMQ с повторами.
func Connect(url string, maxRetries int, retryDelay time.Duration) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	var conn *amqp.Connection
	var err error
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("%s: %w", op, err)
}

// SetupChannel открывает канал, объявляет обменник и привязывает очереди.
func SetupChannel(conn *amqp.Connection, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err = ch.ExchangeDeclare(PaymentsExchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		if _, err = ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err = ch.QueueBind(q.QueueName, q.RoutingKey, PaymentsExchange, false, nil); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return ch, nil
}

// shouldRequeue сообщает, имеет ли смысл повторная доставка после ошибки
// обработчика. Нечитаемые сообщения не станут читаемыми при повторе,
// всё остальное считается временным сбоем.
func shouldRequeue(err error) bool {
	return !errors.Is(err, ErrBadMessage)
}

// ConsumeMessages запускает потребителя очереди. Каждое сообщение передается
// обработчику; при временной ошибке обработчика сообщение возвращается
// в очередь (дубликаты при повторной доставке отсеет хранилище), нечитаемое
// сообщение отбрасывается.
func ConsumeMessages(ctx context.Context, ch *amqp.Channel, queueName string, handler func(body []byte) error) error {
	const op = "rabbitmq.ConsumeMessages"
	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if err := handler(msg.Body); err != nil {
					_ = msg.Nack(false, shouldRequeue(err))
					continue
				}
				_ = msg.Ack(false)
			}
		}
	}()
	return nil
}
