package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestProcess_Success(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, zap.NewNop())

	items := []Item[string]{
		{ID: "task1", Execute: func(ctx context.Context) (string, error) { return "result1", nil }},
		{ID: "task2", Execute: func(ctx context.Context) (string, error) { return "result2", nil }},
		{ID: "task3", Execute: func(ctx context.Context) (string, error) { return "result3", nil }},
	}

	results := Process(context.Background(), pool, items, nil)

	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}

	// Verify all results are present (order may vary)
	resultsByID := make(map[string]string)
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("task %s failed: %v", r.ID, r.Err)
		}
		resultsByID[r.ID] = r.Result
	}

	if resultsByID["task1"] != "result1" || resultsByID["task2"] != "result2" || resultsByID["task3"] != "result3" {
		t.Errorf("unexpected results: %v", resultsByID)
	}
}

func TestProcess_WithErrors(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, zap.NewNop())

	expectedErr := errors.New("task failed")
	items := []Item[string]{
		{ID: "task1", Execute: func(ctx context.Context) (string, error) { return "result1", nil }},
		{ID: "task2", Execute: func(ctx context.Context) (string, error) { return "", expectedErr }},
		{ID: "task3", Execute: func(ctx context.Context) (string, error) { return "result3", nil }},
	}

	results := Process(context.Background(), pool, items, nil)

	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}

	resultsByID := make(map[string]Result[string])
	for _, r := range results {
		resultsByID[r.ID] = r
	}

	if resultsByID["task1"].Err != nil {
		t.Errorf("task1 should succeed, got error: %v", resultsByID["task1"].Err)
	}
	if resultsByID["task2"].Err != expectedErr {
		t.Errorf("task2 should fail with expectedErr, got: %v", resultsByID["task2"].Err)
	}
}

func TestProcess_EmptyItems(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, zap.NewNop())

	if results := Process(context.Background(), pool, []Item[int]{}, nil); results != nil {
		t.Errorf("expected nil results for empty input, got %v", results)
	}
}

func TestProcess_BoundedConcurrency(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, zap.NewNop())

	var current, peak atomic.Int32
	gate := make(chan struct{})

	items := make([]Item[int], 6)
	for i := range items {
		items[i] = Item[int]{
			ID: fmt.Sprintf("task%d", i),
			Execute: func(ctx context.Context) (int, error) {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-gate
				current.Add(-1)
				return 0, nil
			},
		}
	}

	done := make(chan []Result[int])
	go func() { done <- Process(context.Background(), pool, items, nil) }()

	close(gate)
	results := <-done

	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestProcess_Progress(t *testing.T) {
	pool := New(DefaultConfig(), zap.NewNop())

	items := []Item[int]{
		{ID: "a", Execute: func(ctx context.Context) (int, error) { return 1, nil }},
		{ID: "b", Execute: func(ctx context.Context) (int, error) { return 2, nil }},
	}

	var calls atomic.Int32
	Process(context.Background(), pool, items, func(completed, total int) {
		calls.Add(1)
		if total != 2 {
			t.Errorf("total = %d, want 2", total)
		}
	})

	if calls.Load() != 2 {
		t.Errorf("progress calls = %d, want 2", calls.Load())
	}
}

func TestProcess_ContextCancelled(t *testing.T) {
	pool := New(Config{MaxConcurrent: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []Item[int]{
		{ID: "never", Execute: func(ctx context.Context) (int, error) { return 1, nil }},
	}

	results := Process(ctx, pool, items, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	// With the semaphore free the item may still run; either a context
	// error or a clean result is acceptable, but never a hang.
}
