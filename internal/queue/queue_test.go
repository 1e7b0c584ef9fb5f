package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMatchQueue_FIFO(t *testing.T) {
	q := New()
	for _, id := range []int64{3, 1, 2, 1} {
		q.Enqueue(id)
	}

	if got := q.Len(); got != 4 {
		t.Fatalf("Len() = %d, want 4", got)
	}

	ctx := context.Background()
	for _, want := range []int64{3, 1, 2, 1} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if got != want {
			t.Errorf("Dequeue() = %d, want %d", got, want)
		}
	}

	if got := q.Len(); got != 0 {
		t.Errorf("Len() after drain = %d, want 0", got)
	}
}

func TestMatchQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()

	result := make(chan int64, 1)
	go func() {
		id, err := q.Dequeue(context.Background())
		if err != nil {
			t.Errorf("Dequeue() error = %v", err)
			return
		}
		result <- id
	}()

	select {
	case id := <-result:
		t.Fatalf("Dequeue returned %d before anything was enqueued", id)
	case <-time.After(20 * time.Millisecond):
	}

	q.Enqueue(42)

	select {
	case id := <-result:
		if id != 42 {
			t.Errorf("Dequeue() = %d, want 42", id)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up after Enqueue")
	}
}

func TestMatchQueue_DequeueCanceled(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Dequeue() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after cancel")
	}
}

func TestMatchQueue_ConcurrentProducers(t *testing.T) {
	q := New()
	producers := 8
	perProducer := 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(int64(p*perProducer + i))
			}
		}(p)
	}

	seen := make(map[int64]bool)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(seen) < producers*perProducer {
		id, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v after %d items", err, len(seen))
		}
		if seen[id] {
			t.Fatalf("id %d dequeued twice", id)
		}
		seen[id] = true
	}
	wg.Wait()

	if got := q.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func BenchmarkMatchQueue_EnqueueDequeue(b *testing.B) {
	q := New()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Enqueue(int64(i))
		if _, err := q.Dequeue(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
