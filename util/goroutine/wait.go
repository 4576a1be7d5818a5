package goroutine

import (
	"errors"
	"sync"
	"time"
)

// ErrWaitTimeout is returned by WaitTimeout when the group does not finish.
var ErrWaitTimeout = errors.New("goroutines did not exit within timeout")

// WaitTimeout waits for wg, giving up after timeout.
func WaitTimeout(wg *sync.WaitGroup, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	}
}
