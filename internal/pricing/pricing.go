// Package pricing содержит таблицу соответствия суммы платежа количеству
// зачисляемых кредитов.
package pricing

// tier — ценовой диапазон в рублях (включительно) и количество кредитов.
// Таблица перенесена как есть; диапазоны с пропусками не расширяются.
type tier struct {
	minRub  int64
	maxRub  int64
	credits int64
}

var tiers = []tier{
	{minRub: 99, maxRub: 99, credits: 100},
	{minRub: 490, maxRub: 510, credits: 525},
}

// CreditsFor возвращает количество кредитов для суммы в копейках.
// Суммы вне известных диапазонов зачисляются один к одному по рублям.
// Таблица обязана быть единственной на все точки входа: расхождение здесь —
// молчаливая ошибка ценообразования.
func CreditsFor(amountKopecks int64) int64 {
	rub := amountKopecks / 100
	for _, t := range tiers {
		if rub >= t.minRub && rub <= t.maxRub {
			return t.credits
		}
	}
	return rub
}
