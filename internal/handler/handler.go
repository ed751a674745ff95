// Package handler содержит HTTP-обработчики API биллинг-сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ankudinov/miniapp-billing/internal/model"
	"github.com/ankudinov/miniapp-billing/internal/repository"
	"github.com/ankudinov/miniapp-billing/internal/service"
	"github.com/ankudinov/miniapp-billing/internal/tbank"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateIntent(ctx context.Context, req service.IntentRequest) (*service.IntentResult, error)
	ProcessNotification(ctx context.Context, body []byte) (service.CreditResult, error)
	CheckStatus(ctx context.Context, paymentID, orderID, rawIdentity string) (*service.StatusResult, error)
	GetBalance(ctx context.Context, rawIdentity string) (*model.Balance, error)
	GetHistory(ctx context.Context, rawIdentity string) ([]model.LedgerEntry, error)
}

// Handler реализует HTTP-обработчики API биллинг-сервиса.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type initRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	UserID      string `json:"user_id"`
	TelegramID  int64  `json:"telegram_id"`
	Recurrent   bool   `json:"recurrent"`
}

type initResponse struct {
	OrderID    string `json:"order_id"`
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// InitPayment создаёт намерение оплаты и возвращает URL платёжной формы.
func (h *Handler) InitPayment(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount must be positive"})
		return
	}

	rawIdentity := req.UserID
	if rawIdentity == "" && req.TelegramID > 0 {
		rawIdentity = strconv.FormatInt(req.TelegramID, 10)
	}

	res, err := h.service.CreateIntent(r.Context(), service.IntentRequest{
		Amount:      req.Amount,
		Description: req.Description,
		Identity:    rawIdentity,
		Recurrent:   req.Recurrent,
	})
	if err != nil {
		var gwErr *tbank.GatewayError
		if errors.As(err, &gwErr) {
			// Отказ шлюза показывается пользователю как ошибка оформления.
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: gwErr.Message})
			return
		}
		h.logger.Error("create intent error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, initResponse{
		OrderID:    res.OrderID,
		PaymentID:  res.PaymentID,
		PaymentURL: res.PaymentURL,
	})
}

// Notification — единственная точка приёма уведомлений шлюза. Ответ всегда
// 200 OK независимо от внутреннего результата: иначе политика повторов шлюза
// умножает нагрузку. Внутренние отказы видны только в логах.
func (h *Handler) Notification(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("read notification body", zap.Error(err))
		h.ackGateway(w)
		return
	}

	res, err := h.service.ProcessNotification(r.Context(), body)
	if err != nil {
		// Сбой хранилища: зачисление завершит повторная доставка.
		h.logger.Error("notification processing failed", zap.Error(err))
		h.ackGateway(w)
		return
	}

	if res.Outcome == service.OutcomeRejected {
		h.logger.Warn("notification rejected",
			zap.String("reason", res.Reason),
			zap.String("status", string(res.Status)),
		)
	}

	h.ackGateway(w)
}

func (h *Handler) ackGateway(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Error("write gateway ack", zap.Error(err))
	}
}

type statusRequest struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
	Balance int64  `json:"balance"`
}

// CheckStatus — клиентский fallback: опрашивает шлюз и проводит платёж через
// тот же путь зачисления, что и webhook.
func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.PaymentID == "" && req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payment_id or order_id required"})
		return
	}

	res, err := h.service.CheckStatus(r.Context(), req.PaymentID, req.OrderID, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrIntentNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		var gwErr *tbank.GatewayError
		if errors.As(err, &gwErr) {
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: gwErr.Message})
			return
		}
		h.logger.Error("check status error", zap.Error(err),
			zap.String("payment_id", req.PaymentID),
			zap.String("order_id", req.OrderID),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:  string(res.Status),
		Outcome: string(res.Outcome),
		Balance: res.NewBalance,
	})
}

// GetBalance возвращает баланс пользователя для шторки оплаты мини-приложения.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	rawIdentity := r.URL.Query().Get("user_id")
	if rawIdentity == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), rawIdentity)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get balance error", zap.Error(err), zap.String("identity", rawIdentity))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

type historyEntryResponse struct {
	Amount    int64  `json:"amount"`
	Kind      string `json:"kind"`
	OrderID   string `json:"order_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// GetHistory возвращает историю операций пользователя.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	rawIdentity := r.URL.Query().Get("user_id")
	if rawIdentity == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetHistory(r.Context(), rawIdentity)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get history error", zap.Error(err), zap.String("identity", rawIdentity))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, historyEntryResponse{
			Amount:    e.Amount,
			Kind:      string(e.Kind),
			OrderID:   e.OrderID,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ping проверяет доступность сервиса.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
