// Package telegram реализует клиент Bot API для управления членством
// в закрытом канале и доставки сообщений. Клиент не содержит бизнес-логики:
// решения о выдаче и отзыве доступа принимают вызывающие компоненты.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Ошибки, различаемые контроллером доступа. Всё остальное оборачивается
// в APIError.
var (
	// ErrAlreadyMember пользователь уже состоит в канале.
	ErrAlreadyMember = errors.New("user is already a member")
	// ErrNotMember пользователь не состоит в канале.
	ErrNotMember = errors.New("user is not a member")
)

// APIError ошибка Bot API, не сведенная к известному состоянию.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api: %d %s", e.Code, e.Description)
}

// Client клиент Bot API.
type Client struct {
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт клиент Bot API. endpoint без завершающего слеша,
// например https://api.telegram.org.
func NewClient(endpoint, token string) *Client {
	return &Client{
		apiURL:     endpoint + "/bot" + token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	var buf bytes.Buffer
	if params != nil {
		if err := json.NewEncoder(&buf).Encode(params); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+method, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return err
	}
	if !apiResp.OK {
		return mapError(apiResp.ErrorCode, apiResp.Description)
	}
	if result != nil {
		return json.Unmarshal(apiResp.Result, result)
	}
	return nil
}

// mapError сводит описания ошибок Bot API к известным состояниям членства.
func mapError(code int, description string) error {
	desc := strings.ToUpper(description)
	switch {
	case strings.Contains(desc, "USER_ALREADY_PARTICIPANT"),
		strings.Contains(desc, "ALREADY A MEMBER"):
		return ErrAlreadyMember
	case strings.Contains(desc, "USER_NOT_PARTICIPANT"),
		strings.Contains(desc, "PARTICIPANT_ID_INVALID"),
		strings.Contains(desc, "USER NOT FOUND"):
		return ErrNotMember
	}
	return &APIError{Code: code, Description: description}
}

// AddChatMember добавляет пользователя в канал напрямую.
func (c *Client) AddChatMember(ctx context.Context, chatID, userID int64) error {
	params := map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}
	return c.call(ctx, "addChatMember", params, nil)
}

// CreateChatInviteLink создает одноразовую ссылку-приглашение с ограниченным
// сроком жизни.
func (c *Client) CreateChatInviteLink(ctx context.Context, chatID int64, memberLimit int, expireAt time.Time) (string, error) {
	params := map[string]any{
		"chat_id":      chatID,
		"member_limit": memberLimit,
		"expire_date":  expireAt.Unix(),
	}
	var link inviteLink
	if err := c.call(ctx, "createChatInviteLink", params, &link); err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

// BanChatMember удаляет пользователя из канала.
func (c *Client) BanChatMember(ctx context.Context, chatID, userID int64) error {
	params := map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}
	return c.call(ctx, "banChatMember", params, nil)
}

// UnbanChatMember снимает бан, чтобы пользователь мог вернуться
// по будущему приглашению.
func (c *Client) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	params := map[string]any{
		"chat_id":        chatID,
		"user_id":        userID,
		"only_if_banned": true,
	}
	return c.call(ctx, "unbanChatMember", params, nil)
}

// SendMessage отправляет текстовое сообщение пользователю.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// SendMessageWithMarkup отправляет сообщение с inline-клавиатурой.
func (c *Client) SendMessageWithMarkup(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error {
	params := map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": markup,
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// SendVideo отправляет ранее загруженное видео по file id.
func (c *Client) SendVideo(ctx context.Context, chatID int64, fileID, caption string) error {
	params := map[string]any{
		"chat_id": chatID,
		"video":   fileID,
		"caption": caption,
	}
	return c.call(ctx, "sendVideo", params, nil)
}

// AnswerCallbackQuery подтверждает нажатие inline-кнопки.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string, showAlert bool) error {
	params := map[string]any{
		"callback_query_id": callbackQueryID,
		"text":              text,
		"show_alert":        showAlert,
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// GetUpdates выполняет long poll за обновлениями начиная с offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]any{
		"offset":  offset,
		"timeout": int(timeout.Seconds()),
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
