package tbank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignValues_SortedConcatenation(t *testing.T) {
	// Ключи сортируются: Amount, OrderId, Password, TerminalKey.
	fields := map[string]string{
		"TerminalKey": "term",
		"Amount":      "9900",
		"OrderId":     "ORD_1",
	}

	sum := sha256.Sum256([]byte("9900" + "ORD_1" + "secret" + "term"))
	want := hex.EncodeToString(sum[:])

	if got := signValues(fields, "secret"); got != want {
		t.Fatalf("signValues = %s, want %s", got, want)
	}
}

func TestInit_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/Init" {
			t.Fatalf("path = %s, want /Init", r.URL.Path)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["TerminalKey"] != "term" {
			t.Fatalf("TerminalKey = %v, want term", req["TerminalKey"])
		}
		if req["Token"] == nil || req["Token"] == "" {
			t.Fatalf("request must carry a token")
		}

		resp := initResponse{
			Success:    true,
			PaymentID:  "13660",
			PaymentURL: "https://securepayments.example/rest/13660",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "term", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.Init(ctx, InitRequest{
		Amount:      9900,
		OrderID:     "ORD_1",
		Description: "100 credits",
	})
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if res.PaymentID != "13660" {
		t.Fatalf("PaymentID = %s, want 13660", res.PaymentID)
	}
	if res.PaymentURL == "" {
		t.Fatalf("expected payment URL")
	}
}

func TestInit_GatewayRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := initResponse{
			Success:   false,
			ErrorCode: "9999",
			Message:   "Неверные параметры",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "term", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.Init(ctx, InitRequest{Amount: 9900, OrderID: "ORD_1"})

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Code != "9999" {
		t.Fatalf("Code = %s, want 9999", gwErr.Code)
	}
}

func TestInit_NonPositiveAmount(t *testing.T) {
	client := NewClient("http://unused", "term", "secret")

	_, err := client.Init(context.Background(), InitRequest{Amount: 0, OrderID: "ORD_1"})
	if err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestGetState_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/GetState" {
			t.Fatalf("path = %s, want /GetState", r.URL.Path)
		}

		resp := getStateResponse{
			Success:   true,
			PaymentID: "13660",
			OrderID:   "ORD_1",
			Status:    "CONFIRMED",
			Amount:    9900,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "term", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	state, err := client.GetState(ctx, "13660")
	if err != nil {
		t.Fatalf("GetState error: %v", err)
	}
	if state.Status != "CONFIRMED" || state.OrderID != "ORD_1" || state.Amount != 9900 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

// notificationToken вычисляет подпись так, как это делает шлюз: значения
// несоставных полей конкатенируются в порядке отсортированных ключей.
func notificationToken(password string) string {
	// Ключи в отсортированном порядке: Amount, OrderId, Password, PaymentId,
	// Status, Success, TerminalKey.
	payload := "9900" + "ORD_1" + password + "13660" + "CONFIRMED" + "true" + "term"
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func notificationBody(token string) []byte {
	return []byte(fmt.Sprintf(`{
		"TerminalKey": "term",
		"OrderId": "ORD_1",
		"PaymentId": 13660,
		"Success": true,
		"Status": "CONFIRMED",
		"Amount": 9900,
		"DATA": {"user_id": "123456789"},
		"Token": %q
	}`, token))
}

func TestVerifyNotification_Valid(t *testing.T) {
	client := NewClient("http://unused", "term", "secret")

	n, ok := client.VerifyNotification(notificationBody(notificationToken("secret")))
	if !ok {
		t.Fatalf("expected valid notification")
	}
	if n.OrderID != "ORD_1" || n.PaymentID != "13660" || n.Amount != 9900 {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Status != "CONFIRMED" || !n.Success {
		t.Fatalf("unexpected status: %+v", n)
	}
	if n.Data["user_id"] != "123456789" {
		t.Fatalf("DATA not parsed: %+v", n.Data)
	}
}

func TestVerifyNotification_TamperedAmount(t *testing.T) {
	client := NewClient("http://unused", "term", "secret")

	body := []byte(fmt.Sprintf(`{
		"TerminalKey": "term",
		"OrderId": "ORD_1",
		"PaymentId": 13660,
		"Success": true,
		"Status": "CONFIRMED",
		"Amount": 990000,
		"Token": %q
	}`, notificationToken("secret")))

	if _, ok := client.VerifyNotification(body); ok {
		t.Fatalf("tampered notification must be rejected")
	}
}

func TestVerifyNotification_WrongPassword(t *testing.T) {
	client := NewClient("http://unused", "term", "secret")

	if _, ok := client.VerifyNotification(notificationBody(notificationToken("other"))); ok {
		t.Fatalf("notification signed with wrong password must be rejected")
	}
}

func TestVerifyNotification_MissingToken(t *testing.T) {
	client := NewClient("http://unused", "term", "secret")

	if _, ok := client.VerifyNotification([]byte(`{"OrderId":"ORD_1"}`)); ok {
		t.Fatalf("notification without token must be rejected")
	}
}

func TestVerifyNotification_ForeignTerminal(t *testing.T) {
	client := NewClient("http://unused", "other-term", "secret")

	if _, ok := client.VerifyNotification(notificationBody(notificationToken("secret"))); ok {
		t.Fatalf("notification for another terminal must be rejected")
	}
}

func TestVerifyNotification_Garbage(t *testing.T) {
	client := NewClient("http://unused", "term", "secret")

	if _, ok := client.VerifyNotification([]byte("not json")); ok {
		t.Fatalf("garbage body must be rejected")
	}
}
