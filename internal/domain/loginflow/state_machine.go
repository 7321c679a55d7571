// Пакет loginflow — конечный автомат входа по одноразовому коду для одной идентичности.
//
//	idle ──(код выдан)──▶ code_sent ──(верный код)──▶ verified
//	                          │  ▲
//	     (3-я неудача)        │  │ (новый код)
//	                          ▼  │
//	                        locked ──(блокировка истекла)──▶ idle
//
// Истечение или отмена кода переводит code_sent → idle.
// Потокобезопасен через sync.RWMutex.
package loginflow

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние входа.
type State string

const (
	// StateIdle — кода нет.
	StateIdle State = "idle"
	// StateCodeSent — код выдан и ожидает проверки.
	StateCodeSent State = "code_sent"
	// StateVerified — код подтверждён.
	StateVerified State = "verified"
	// StateLocked — проверка заблокирована после серии неудач.
	StateLocked State = "locked"
)

// Event — причина перехода.
type Event string

const (
	EventCodeIssued    Event = "code_issued"
	EventCodeVerified  Event = "code_verified"
	EventCodeExpired   Event = "code_expired"
	EventCodeCancelled Event = "code_cancelled"
	EventLocked        Event = "locked"
	EventLockExpired   Event = "lock_expired"
	EventReset         Event = "reset"
)

// maxHistory — сколько последних переходов хранится.
const maxHistory = 32

// TransitionRecord — запись о переходе.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMachine — автомат входа одной идентичности.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	history []TransitionRecord
}

// validTransitions — матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateIdle:     {StateCodeSent: true},
	StateCodeSent: {StateCodeSent: true, StateVerified: true, StateLocked: true, StateIdle: true},
	StateLocked:   {StateIdle: true, StateCodeSent: true},
	StateVerified: {StateCodeSent: true, StateIdle: true},
}

// NewStateMachine создаёт автомат в состоянии idle.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateIdle}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransitionTo проверяет допустимость перехода.
func (sm *StateMachine) CanTransitionTo(target State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return validTransitions[sm.current][target]
}

// TransitionTo выполняет переход.
//
// Ошибки:
//   - INVALID_STATE — неизвестное целевое состояние
//   - INVALID_TRANSITION — переход недопустим
func (sm *StateMachine) TransitionTo(target State, event Event, at time.Time) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !isValidState(target) {
		return &TransitionError{
			Code:    "INVALID_STATE",
			Message: fmt.Sprintf("недопустимое состояние: %q", target),
		}
	}
	if !validTransitions[sm.current][target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s (%s) недопустим", sm.current, target, event),
		}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Event:     event,
		Timestamp: at.UTC(),
	})
	if len(sm.history) > maxHistory {
		sm.history = sm.history[len(sm.history)-maxHistory:]
	}
	sm.current = target
	return nil
}

// History возвращает копию последних переходов.
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitionError — ошибка перехода.
type TransitionError struct {
	Code    string // INVALID_STATE, INVALID_TRANSITION
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func isValidState(s State) bool {
	switch s {
	case StateIdle, StateCodeSent, StateVerified, StateLocked:
		return true
	default:
		return false
	}
}
