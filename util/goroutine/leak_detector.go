package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks registers a cleanup that fails t if the goroutine count has
// not returned to its value at the time of the call within five seconds.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    goroutine.AssertNoLeaks(t)
//	    // ... code that launches goroutines ...
//	}
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	snapshot := TakeSnapshot()
	t.Cleanup(func() { snapshot.AssertNoLeak(t, 5*time.Second) })
}

// GoroutineSnapshot captures goroutine state for comparison
type GoroutineSnapshot struct {
	Count int
	Time  time.Time
}

// TakeSnapshot captures the current goroutine count
func TakeSnapshot() GoroutineSnapshot {
	return GoroutineSnapshot{
		Count: runtime.NumGoroutine(),
		Time:  time.Now(),
	}
}

// Compare returns how many goroutines were started since the snapshot.
func (s GoroutineSnapshot) Compare() int {
	return runtime.NumGoroutine() - s.Count
}

// AssertNoLeak waits up to timeout for the goroutine count to drop back to
// the snapshot, then fails t with a full stack dump.
func (s GoroutineSnapshot) AssertNoLeak(t testing.TB, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= s.Count {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	current := runtime.NumGoroutine()
	if current > s.Count {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Errorf("goroutine leak: snapshot had %d goroutines, now have %d (leaked %d) over %v\n%s",
			s.Count, current, current-s.Count, time.Since(s.Time), buf[:n])
	}
}
