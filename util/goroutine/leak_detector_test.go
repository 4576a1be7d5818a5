package goroutine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssertNoLeaks_WithWaitGroup(t *testing.T) {
	AssertNoLeaks(t)

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			time.Sleep(20 * time.Millisecond)
		}()
	}
	wg.Wait()
}

func TestGoroutineSnapshot_Compare(t *testing.T) {
	snapshot := TakeSnapshot()

	done := make(chan struct{})
	go func() { <-done }()
	assert.GreaterOrEqual(t, snapshot.Compare(), 1)

	close(done)
	snapshot.AssertNoLeak(t, 5*time.Second)
}

func TestWaitTimeout(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
	}()
	assert.NoError(t, WaitTimeout(&wg, time.Second))

	release := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-release
	}()
	assert.ErrorIs(t, WaitTimeout(&wg, 20*time.Millisecond), ErrWaitTimeout)
	close(release)
	assert.NoError(t, WaitTimeout(&wg, time.Second))
}
