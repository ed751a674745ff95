// Package notify отправляет пользователю уведомления через Telegram Bot API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const telegramAPIBaseURL = "https://api.telegram.org/bot"

// Telegram — клиент Bot API для отправки сообщений о зачислении.
// Уведомление — не часть финансового контракта: любые ошибки здесь
// логируются и проглатываются, откат зачисления недопустим.
type Telegram struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTelegram создаёт клиент с указанным токеном бота. При пустом токене
// возвращает nil: отправка уведомлений тогда отключена.
func NewTelegram(token string, logger *zap.Logger) *Telegram {
	if token == "" {
		return nil
	}
	return &Telegram{
		baseURL: telegramAPIBaseURL + token,
		httpClient: &http.Client{
			Timeout: 3 * time.Second,
		},
		logger: logger,
	}
}

// newTelegramWithBaseURL используется в тестах для подмены адреса Bot API.
func newTelegramWithBaseURL(baseURL string, logger *zap.Logger) *Telegram {
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 3 * time.Second,
		},
		logger: logger,
	}
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// PaymentConfirmed отправляет пользователю сообщение о зачислении кредитов.
func (t *Telegram) PaymentConfirmed(ctx context.Context, chatID int64, credited, newBalance int64) {
	if t == nil {
		return
	}

	text := fmt.Sprintf("Оплата получена! Начислено кредитов: %d. Текущий баланс: %d.", credited, newBalance)

	if err := t.sendMessage(ctx, chatID, text); err != nil {
		t.logger.Warn("payment notification failed",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
		)
	}
}

func (t *Telegram) sendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if !apiResp.OK {
		return fmt.Errorf("telegram API error: %s (code %d)", apiResp.Description, apiResp.ErrorCode)
	}

	return nil
}
