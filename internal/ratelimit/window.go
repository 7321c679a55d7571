// Пакет ratelimit — ограничение частоты действий по идентичности (email).
//
// Три независимых семейства счётчиков:
//   - генерация OTP: скользящее окно (1 час, не более 5 попыток);
//   - проверка OTP: подряд идущие неудачи (не более 3), блокировка
//     на 30 минут от последней неудачи, успех обнуляет историю;
//   - публикация отзывов: скользящее окно (24 часа, не более 2),
//     хранится в долговременном хранилище.
//
// Отклонённая попытка не записывается и не продлевает блокировку.
package ratelimit

import (
	"sort"
	"time"
)

// Window — упорядоченная последовательность моментов попыток.
type Window struct {
	attempts []time.Time
}

// NewWindow создаёт окно из сохранённых моментов (порядок восстанавливается).
func NewWindow(attempts []time.Time) *Window {
	w := &Window{attempts: append([]time.Time(nil), attempts...)}
	sort.Slice(w.attempts, func(i, j int) bool { return w.attempts[i].Before(w.attempts[j]) })
	return w
}

// Prune оставляет только попытки в интервале [now-length, now].
// Возвращает true, если что-то было удалено.
func (w *Window) Prune(now time.Time, length time.Duration) bool {
	cutoff := now.Add(-length)
	keep := 0
	for keep < len(w.attempts) && w.attempts[keep].Before(cutoff) {
		keep++
	}
	if keep == 0 {
		return false
	}
	w.attempts = append(w.attempts[:0], w.attempts[keep:]...)
	return true
}

// Count возвращает число попыток в окне.
func (w *Window) Count() int { return len(w.attempts) }

// Add добавляет попытку, сохраняя порядок.
func (w *Window) Add(t time.Time) {
	i := sort.Search(len(w.attempts), func(i int) bool { return w.attempts[i].After(t) })
	w.attempts = append(w.attempts, time.Time{})
	copy(w.attempts[i+1:], w.attempts[i:])
	w.attempts[i] = t
}

// First возвращает самую раннюю попытку или нулевое время.
func (w *Window) First() time.Time {
	if len(w.attempts) == 0 {
		return time.Time{}
	}
	return w.attempts[0]
}

// Last возвращает самую позднюю попытку или нулевое время.
func (w *Window) Last() time.Time {
	if len(w.attempts) == 0 {
		return time.Time{}
	}
	return w.attempts[len(w.attempts)-1]
}

// Reset очищает окно.
func (w *Window) Reset() { w.attempts = nil }

// Attempts возвращает копию моментов попыток.
func (w *Window) Attempts() []time.Time {
	return append([]time.Time(nil), w.attempts...)
}
