package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerRunsSubmittedJob(t *testing.T) {
	w := NewWorker(2, 4, NoAffinityForTest)
	defer w.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	got := make(chan any, 1)
	ok := w.TrySubmit(func(arg any) {
		got <- arg
		wg.Done()
	}, "payload", 0)
	assert.True(t, ok)

	select {
	case v := <-got:
		assert.Equal(t, "payload", v)
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	wg.Wait()
}

func TestWorkerRefusesWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	w := NewWorker(1, 1, NoAffinityForTest)
	defer w.Stop()
	defer close(block)

	// Occupy the single worker so the queue backs up.
	started := make(chan struct{})
	assert.True(t, w.TrySubmit(func(arg any) { close(started); <-block }, nil, 0))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first job never started")
	}
	// Fill the one queue slot.
	assert.True(t, w.TrySubmit(func(arg any) { <-block }, nil, 0))
	// Queue is now full and the worker is busy: this must be refused.
	accepted := false
	for i := 0; i < 5; i++ {
		if w.TrySubmit(func(arg any) {}, nil, 0) {
			accepted = true
			break
		}
	}
	assert.False(t, accepted)
}

const NoAffinityForTest = -1
