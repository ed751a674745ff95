package tbank

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

const passwordField = "Password"

// signValues вычисляет подпись запроса или уведомления: к полям добавляется
// пароль терминала, ключи сортируются лексикографически, строковые значения
// конкатенируются в порядке ключей и хешируются SHA-256.
func signValues(fields map[string]string, password string) string {
	m := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	m[passwordField] = password

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(m[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// flattenFields приводит разобранное JSON-тело к полям для подписи.
// Поле Token исключается, вложенные объекты и массивы в конкатенацию
// не входят. Числа сохраняют исходную JSON-запись, булевы значения
// сериализуются как "true"/"false".
func flattenFields(raw map[string]any) map[string]string {
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		if k == "Token" {
			continue
		}
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			if val {
				fields[k] = "true"
			} else {
				fields[k] = "false"
			}
		}
	}
	return fields
}

// tokenEqual сравнивает подписи без утечки времени сравнения.
func tokenEqual(expected, supplied string) bool {
	return hmac.Equal([]byte(expected), []byte(supplied))
}
