package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPaymentConfirmed_SendsMessage(t *testing.T) {
	var got sendMessageRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" {
			t.Fatalf("path = %s, want /sendMessage", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(apiResponse{OK: true}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	tg := newTelegramWithBaseURL(ts.URL, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tg.PaymentConfirmed(ctx, 111, 100, 150)

	if got.ChatID != 111 {
		t.Fatalf("chat_id = %d, want 111", got.ChatID)
	}
	if got.Text == "" {
		t.Fatalf("empty message text")
	}
}

func TestPaymentConfirmed_SwallowsAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(apiResponse{OK: false, ErrorCode: 403, Description: "bot was blocked"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	tg := newTelegramWithBaseURL(ts.URL, zap.NewNop())

	// Ошибка API не должна ни паниковать, ни всплывать наружу.
	tg.PaymentConfirmed(context.Background(), 111, 100, 150)
}

func TestPaymentConfirmed_NilClient(t *testing.T) {
	var tg *Telegram

	tg.PaymentConfirmed(context.Background(), 111, 100, 150)
}

func TestNewTelegram_EmptyToken(t *testing.T) {
	if tg := NewTelegram("", zap.NewNop()); tg != nil {
		t.Fatalf("empty token must disable notifications")
	}
}
