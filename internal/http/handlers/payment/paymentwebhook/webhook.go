// Package paymentwebhook принимает уведомления платежного провайдера.
// Обработчик проверяет подпись, разбирает полезную нагрузку и превращает
// успешную оплату в событие очереди; журналом занимается потребитель.
package paymentwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/models"
)

// Publisher публикует событие оплаты в очередь.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// Handler обработчик вебхука платежного провайдера.
type Handler struct {
	log           *slog.Logger
	publisher     Publisher
	webhookSecret string
}

// New создает новый Handler.
func New(log *slog.Logger, publisher Publisher, secret string) *Handler {
	return &Handler{
		log:           log,
		publisher:     publisher,
		webhookSecret: secret,
	}
}

// Payload полезная нагрузка уведомления провайдера.
type Payload struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// verifySignature проверяет подпись вебхука из заголовка X-Api-Signature.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(slog.String("op", op))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err = json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Интересует только успешная оплата, остальные события подтверждаются
	// без обработки, чтобы провайдер не повторял доставку.
	if strings.ToLower(payload.Event) != "payment.succeeded" {
		log.Info("ignored webhook event", slog.String("event", payload.Event))
		w.WriteHeader(http.StatusOK)
		return
	}

	event, err := h.buildEvent(&payload)
	if err != nil {
		log.Error("failed to build payment event", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err = h.publisher.Publish("confirmed", event); err != nil {
		log.Error("failed to publish payment event", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info("payment event published",
		slog.String("charge_id", event.ChargeID),
		slog.Int64("telegram_id", event.TelegramID))
	w.WriteHeader(http.StatusOK)
}

// buildEvent собирает типизированное событие из полезной нагрузки провайдера.
// Идентификатор пользователя и срок подписки провайдер возвращает в metadata.
func (h *Handler) buildEvent(payload *Payload) (*models.PaymentEvent, error) {
	telegramID, err := strconv.ParseInt(payload.Object.Metadata["telegram_id"], 10, 64)
	if err != nil {
		return nil, &BadMetadataError{Field: "telegram_id"}
	}
	months, err := strconv.Atoi(payload.Object.Metadata["months"])
	if err != nil {
		return nil, &BadMetadataError{Field: "months"}
	}

	return &models.PaymentEvent{
		EventID:    uuid.NewString(),
		ChargeID:   payload.Object.ID,
		TelegramID: telegramID,
		Months:     months,
		Amount:     payload.Object.Amount.Value,
	}, nil
}

// BadMetadataError отсутствующее или нечитаемое поле metadata.
type BadMetadataError struct {
	Field string
}

func (e *BadMetadataError) Error() string {
	return "bad or missing metadata field: " + e.Field
}
