// Package tbank предоставляет клиент платёжного шлюза Т-Банка.
package tbank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL     string
	terminalKey string
	password    string
	httpClient  *http.Client
}

// NewClient создаёт клиент шлюза для указанного терминала.
func NewClient(baseURL, terminalKey, password string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		terminalKey: terminalKey,
		password:    password,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GatewayError — отказ шлюза с его собственным кодом и сообщением.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected request: %s (code %s)", e.Message, e.Code)
}

// InitRequest — параметры создания платежа.
type InitRequest struct {
	Amount          int64
	OrderID         string
	Description     string
	NotificationURL string
	SuccessURL      string
	Recurrent       bool
	Data            map[string]string
}

// InitResult — идентификатор платежа и URL для редиректа пользователя.
type InitResult struct {
	PaymentID  string
	PaymentURL string
}

type initResponse struct {
	Success    bool   `json:"Success"`
	ErrorCode  string `json:"ErrorCode"`
	Message    string `json:"Message"`
	Details    string `json:"Details"`
	PaymentID  string `json:"PaymentId"`
	PaymentURL string `json:"PaymentURL"`
	Status     string `json:"Status"`
}

// Init регистрирует платёж в шлюзе и возвращает URL платёжной формы.
func (c *Client) Init(ctx context.Context, req InitRequest) (*InitResult, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	payload := map[string]any{
		"TerminalKey": c.terminalKey,
		"Amount":      req.Amount,
		"OrderId":     req.OrderID,
	}
	fields := map[string]string{
		"TerminalKey": c.terminalKey,
		"Amount":      strconv.FormatInt(req.Amount, 10),
		"OrderId":     req.OrderID,
	}
	if req.Description != "" {
		payload["Description"] = req.Description
		fields["Description"] = req.Description
	}
	if req.NotificationURL != "" {
		payload["NotificationURL"] = req.NotificationURL
		fields["NotificationURL"] = req.NotificationURL
	}
	if req.SuccessURL != "" {
		payload["SuccessURL"] = req.SuccessURL
		fields["SuccessURL"] = req.SuccessURL
	}
	if req.Recurrent {
		payload["Recurrent"] = "Y"
		fields["Recurrent"] = "Y"
	}
	if len(req.Data) > 0 {
		// Вложенный объект в подпись не входит.
		payload["DATA"] = req.Data
	}
	payload["Token"] = signValues(fields, c.password)

	var resp initResponse
	if err := c.post(ctx, "/Init", payload, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		msg := resp.Message
		if resp.Details != "" {
			msg = msg + ": " + resp.Details
		}
		return nil, &GatewayError{Code: resp.ErrorCode, Message: msg}
	}

	return &InitResult{
		PaymentID:  resp.PaymentID,
		PaymentURL: resp.PaymentURL,
	}, nil
}

// State — текущее состояние платежа по данным шлюза.
type State struct {
	PaymentID string
	OrderID   string
	Status    string
	Amount    int64
	Success   bool
}

type getStateResponse struct {
	Success   bool   `json:"Success"`
	ErrorCode string `json:"ErrorCode"`
	Message   string `json:"Message"`
	PaymentID string `json:"PaymentId"`
	OrderID   string `json:"OrderId"`
	Status    string `json:"Status"`
	Amount    int64  `json:"Amount"`
}

// GetState запрашивает статус платежа. Запрос подписывается; ответ приходит
// по TLS от настроенного хоста шлюза и отдельной подписи не несёт.
func (c *Client) GetState(ctx context.Context, paymentID string) (*State, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	fields := map[string]string{
		"TerminalKey": c.terminalKey,
		"PaymentId":   paymentID,
	}
	payload := map[string]any{
		"TerminalKey": c.terminalKey,
		"PaymentId":   paymentID,
		"Token":       signValues(fields, c.password),
	}

	var resp getStateResponse
	if err := c.post(ctx, "/GetState", payload, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, &GatewayError{Code: resp.ErrorCode, Message: resp.Message}
	}

	return &State{
		PaymentID: resp.PaymentID,
		OrderID:   resp.OrderID,
		Status:    resp.Status,
		Amount:    resp.Amount,
		Success:   resp.Success,
	}, nil
}

// Notification — уведомление шлюза о смене статуса платежа.
// Поля достоверны только после успешной проверки подписи.
type Notification struct {
	TerminalKey string
	OrderID     string
	PaymentID   string
	Success     bool
	Status      string
	Amount      int64
	Data        map[string]string
	Raw         []byte
}

// VerifyNotification разбирает тело уведомления и проверяет его подпись.
// При любом расхождении подписи возвращает valid=false; в этом случае
// действовать по полям уведомления нельзя, но транспортный ответ шлюзу
// всё равно обязан быть успешным.
func (c *Client) VerifyNotification(body []byte) (*Notification, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}

	supplied, _ := raw["Token"].(string)
	if supplied == "" {
		return nil, false
	}

	expected := signValues(flattenFields(raw), c.password)
	if !tokenEqual(expected, supplied) {
		return nil, false
	}

	n := &Notification{Raw: body}
	if v, ok := raw["TerminalKey"].(string); ok {
		n.TerminalKey = v
	}
	if v, ok := raw["OrderId"].(string); ok {
		n.OrderID = v
	}
	switch v := raw["PaymentId"].(type) {
	case string:
		n.PaymentID = v
	case json.Number:
		n.PaymentID = v.String()
	}
	if v, ok := raw["Success"].(bool); ok {
		n.Success = v
	}
	if v, ok := raw["Status"].(string); ok {
		n.Status = v
	}
	if v, ok := raw["Amount"].(json.Number); ok {
		if amount, err := v.Int64(); err == nil {
			n.Amount = amount
		}
	}
	if data, ok := raw["DATA"].(map[string]any); ok {
		n.Data = make(map[string]string, len(data))
		for k, v := range data {
			switch val := v.(type) {
			case string:
				n.Data[k] = val
			case json.Number:
				n.Data[k] = val.String()
			}
		}
	}

	if n.TerminalKey != c.terminalKey {
		return nil, false
	}

	return n, true
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
