package schedule

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("задача не завершилась")
	}
}

func TestAfter_Fires(t *testing.T) {
	var calls atomic.Int32
	task := After(10*time.Millisecond, func() { calls.Add(1) })

	waitDone(t, task)

	if got := calls.Load(); got != 1 {
		t.Errorf("функция вызвана %d раз, ожидался 1", got)
	}
	if task.State() != StateFired {
		t.Errorf("State() = %s, ожидалось fired", task.State())
	}
	if task.Cancel() {
		t.Error("Cancel() после срабатывания вернул true")
	}
}

func TestCancel_PreventsCall(t *testing.T) {
	var calls atomic.Int32
	task := After(time.Hour, func() { calls.Add(1) })

	if !task.Cancel() {
		t.Fatal("первая отмена должна вернуть true")
	}
	if task.Cancel() {
		t.Error("повторная отмена должна вернуть false")
	}
	waitDone(t, task)

	if task.State() != StateCancelled {
		t.Errorf("State() = %s, ожидалось cancelled", task.State())
	}
	if calls.Load() != 0 {
		t.Error("функция вызвана после отмены")
	}
}

func TestCancel_Nil(t *testing.T) {
	var task *Task
	if task.Cancel() {
		t.Error("Cancel() на nil вернул true")
	}
}

// TestCancel_RaceWithFire проверяет, что ровно один исход выигрывает.
func TestCancel_RaceWithFire(t *testing.T) {
	for i := 0; i < 200; i++ {
		var calls atomic.Int32
		task := After(time.Microsecond, func() { calls.Add(1) })

		var wg sync.WaitGroup
		var cancelled atomic.Int32
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if task.Cancel() {
					cancelled.Add(1)
				}
			}()
		}
		wg.Wait()
		waitDone(t, task)

		if calls.Load()+cancelled.Load() != 1 {
			t.Fatalf("итерация %d: вызовов %d, отмен %d", i, calls.Load(), cancelled.Load())
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateFired, "fired"},
		{StateCancelled, "cancelled"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, ожидалось %q", tt.state, got, tt.want)
		}
	}
}
