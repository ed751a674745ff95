// Package identity содержит единый разбор идентификаторов покупателя,
// приходящих из внешних источников.
package identity

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind — тип распознанного идентификатора.
type Kind int

const (
	// KindUnknown — значение не распознано ни как UUID, ни как telegram id.
	KindUnknown Kind = iota
	// KindUserID — канонический UUID пользователя.
	KindUserID
	// KindTelegramID — числовой идентификатор чата Telegram.
	KindTelegramID
)

// Identity — распознанный идентификатор покупателя. Значение заполнено
// только для соответствующего Kind.
type Identity struct {
	Kind       Kind
	UserID     uuid.UUID
	TelegramID int64
}

// Parse классифицирует строковый идентификатор. Значение считается telegram id,
// если оно целиком числовое и не содержит разделителей UUID; значение с дефисами
// проверяется как UUID. Одна и та же эвристика обязана применяться на всех
// путях разрешения пользователя.
func Parse(raw string) Identity {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Identity{Kind: KindUnknown}
	}

	if strings.Contains(trimmed, "-") {
		id, err := uuid.Parse(trimmed)
		if err != nil {
			return Identity{Kind: KindUnknown}
		}
		return Identity{Kind: KindUserID, UserID: id}
	}

	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || n <= 0 {
		return Identity{Kind: KindUnknown}
	}
	return Identity{Kind: KindTelegramID, TelegramID: n}
}
