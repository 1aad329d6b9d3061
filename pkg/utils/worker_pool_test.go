package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	numResults := 10000

	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	var mu sync.Mutex
	results := make([]int, 0)

	tasks := make([]func(), 0, numResults)
	for i := 0; i < numResults; i++ {
		i := i
		tasks = append(tasks, func() {
			mu.Lock()
			results = append(results, i)
			mu.Unlock()
		})
	}

	pool.RunAll(tasks)

	assert.Len(t, results, numResults)

	resultSet := make(map[int]struct{})
	for _, r := range results {
		resultSet[r] = struct{}{}
	}
	for i := 0; i < numResults; i++ {
		assert.Contains(t, resultSet, i)
	}
}

func TestWorkerPoolRunsConcurrently(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	// Give the workers time to block on the task channel.
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	pool.RunAll([]func(){
		func() { time.Sleep(50 * time.Millisecond) },
		func() { time.Sleep(50 * time.Millisecond) },
		func() { time.Sleep(50 * time.Millisecond) },
	})
	assert.Less(t, time.Since(start), 140*time.Millisecond)
}

func TestStoppedWorkerPoolRunsInline(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	pool.Stop()
	pool.Stop()

	ran := 0
	pool.RunAll([]func(){func() { ran++ }, func() { ran++ }})
	assert.Equal(t, 2, ran)
}
