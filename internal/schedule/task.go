// Пакет schedule — отменяемые отложенные задачи.
//
// Задача завершается ровно одним способом: либо срабатывает функция,
// либо задача отменяется. Повторная отмена безопасна.
package schedule

import (
	"sync/atomic"
	"time"
)

// State — состояние задачи.
type State int32

const (
	// StatePending — задача ожидает срабатывания.
	StatePending State = iota
	// StateFired — функция вызвана.
	StateFired
	// StateCancelled — задача отменена до срабатывания.
	StateCancelled
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task — дескриптор отложенной задачи.
type Task struct {
	state atomic.Int32
	timer *time.Timer
	done  chan struct{}
}

// After планирует вызов fn через d. Отрицательная длительность
// трактуется как немедленное срабатывание.
func After(d time.Duration, fn func()) *Task {
	t := &Task{done: make(chan struct{})}
	t.timer = time.AfterFunc(d, func() {
		if !t.state.CompareAndSwap(int32(StatePending), int32(StateFired)) {
			return
		}
		defer close(t.done)
		fn()
	})
	return t
}

// Cancel отменяет задачу. Возвращает true, если вызов fn предотвращён
// именно этой отменой. Повторные вызовы возвращают false.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	if !t.state.CompareAndSwap(int32(StatePending), int32(StateCancelled)) {
		return false
	}
	t.timer.Stop()
	close(t.done)
	return true
}

// Done закрывается, когда задача отменена или функция завершилась.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State возвращает текущее состояние задачи.
func (t *Task) State() State {
	return State(t.state.Load())
}
