// Package model содержит доменные сущности биллинга мини-приложения.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User представляет пользователя мини-приложения.
// Канонический идентификатор — UUID; telegram_id используется для уведомлений
// и для привязки платежей, пришедших только с числовым идентификатором чата.
type User struct {
	ID         uuid.UUID
	TelegramID *int64
	Username   string
	CreatedAt  time.Time
}

// EntryKind описывает вид записи в журнале операций.
type EntryKind string

const (
	// EntryKindPendingInit — намерение оплаты, созданное до редиректа в банк.
	// Не является зачислением и не должно учитываться проверкой идемпотентности.
	EntryKindPendingInit EntryKind = "pending_init"
	// EntryKindDeposit — подтверждённое зачисление кредитов.
	EntryKindDeposit EntryKind = "deposit"
	// EntryKindWithdrawal — списание кредитов за использование сервиса.
	EntryKindWithdrawal EntryKind = "withdrawal"
)

// LedgerEntry — запись журнала операций. Журнал append-only и является
// источником истины; balances — денормализованный снимок.
type LedgerEntry struct {
	ID        int64
	UserID    *uuid.UUID
	Amount    int64
	Kind      EntryKind
	OrderID   string
	PaymentID string
	Metadata  []byte
	CreatedAt time.Time
}

// PaymentStatus — статус платежа в терминах банковского шлюза.
type PaymentStatus string

const (
	PaymentStatusNew        PaymentStatus = "NEW"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusConfirmed  PaymentStatus = "CONFIRMED"
	PaymentStatusRejected   PaymentStatus = "REJECTED"
	PaymentStatusCanceled   PaymentStatus = "CANCELED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

// IsTerminalSuccess сообщает, является ли статус окончательно успешным,
// то есть допускающим зачисление кредитов.
func (s PaymentStatus) IsTerminalSuccess() bool {
	return s == PaymentStatusConfirmed || s == PaymentStatusAuthorized
}

// Balance содержит текущий баланс пользователя в кредитах.
type Balance struct {
	UserID  uuid.UUID `json:"user_id"`
	Current int64     `json:"current"`
}

// Intent — сохранённое намерение оплаты (строка pending_init журнала).
// Служит запасным источником идентичности пользователя, если уведомление
// банка не содержит её.
type Intent struct {
	OrderID    string
	PaymentID  string
	UserID     *uuid.UUID
	TelegramID *int64
	Amount     int64
	CreatedAt  time.Time
}
