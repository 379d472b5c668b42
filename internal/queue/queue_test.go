package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[string](3)

	for _, s := range []string{"charge_V 100", "pulse", "reset"} {
		if err := q.TryPut(s); err != nil {
			t.Fatalf("TryPut(%q) error = %v", s, err)
		}
	}

	for _, want := range []string{"charge_V 100", "pulse", "reset"} {
		got, ok := q.TryGet()
		if !ok || got != want {
			t.Errorf("TryGet() = %q, %v; want %q", got, ok, want)
		}
	}

	if _, ok := q.TryGet(); ok {
		t.Error("TryGet() on empty queue returned an item")
	}
}

func TestQueue_TryPutFull(t *testing.T) {
	q := New[int](2)
	_ = q.TryPut(1)
	_ = q.TryPut(2)

	if err := q.TryPut(3); !errors.Is(err, ErrFull) {
		t.Errorf("TryPut() error = %v, want ErrFull", err)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueue_PutBlocksUntilRoom(t *testing.T) {
	q := New[int](1)
	_ = q.TryPut(1)

	done := make(chan error, 1)
	go func() {
		done <- q.Put(context.Background(), 2)
	}()

	select {
	case err := <-done:
		t.Fatalf("Put() returned early with %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if v, _ := q.TryGet(); v != 1 {
		t.Fatalf("TryGet() = %d, want 1", v)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put() did not unblock after room appeared")
	}

	if v, _ := q.TryGet(); v != 2 {
		t.Errorf("TryGet() = %d, want 2", v)
	}
}

func TestQueue_PutContextCancelled(t *testing.T) {
	q := New[int](1)
	_ = q.TryPut(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := q.Put(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Put() error = %v, want DeadlineExceeded", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (rejected item must not be queued)", q.Len())
	}
}

func TestQueue_GetBlocksUntilItem(t *testing.T) {
	q := New[string](2)

	got := make(chan string, 1)
	go func() {
		v, err := q.Get(context.Background())
		if err != nil {
			t.Errorf("Get() error = %v", err)
		}
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	_ = q.TryPut("pulse")

	select {
	case v := <-got:
		if v != "pulse" {
			t.Errorf("Get() = %q, want pulse", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Get() did not return after an item arrived")
	}
}

func TestQueue_Drain(t *testing.T) {
	q := New[int](5)
	for i := 1; i <= 3; i++ {
		_ = q.TryPut(i)
	}

	got := q.Drain()
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("Drain() = %v, want [1 2 3]", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", q.Len())
	}
	if q.Drain() != nil {
		t.Error("Drain() of empty queue should return nil")
	}
}

func TestQueue_ReadyFiresOnMutation(t *testing.T) {
	q := New[int](2)
	ready := q.Ready()

	_ = q.TryPut(7)

	select {
	case <-ready:
	default:
		t.Fatal("Ready() channel not closed after TryPut")
	}
}

func TestQueue_Close(t *testing.T) {
	q := New[int](2)
	_ = q.TryPut(1)
	q.Close()
	q.Close()

	if err := q.TryPut(2); !errors.Is(err, ErrClosed) {
		t.Errorf("TryPut() after Close error = %v, want ErrClosed", err)
	}
	if v, err := q.Get(context.Background()); err != nil || v != 1 {
		t.Errorf("Get() = %d, %v; want 1, nil", v, err)
	}
	if _, err := q.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() on closed empty queue error = %v, want ErrClosed", err)
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 50
	q := New[int](4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Put(ctx, i); err != nil {
					t.Errorf("Put() error = %v", err)
				}
			}
		}()
	}

	received := 0
	for received < producers*perProducer {
		if _, err := q.Get(ctx); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		received++
	}
	wg.Wait()

	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestNew_MinimumCapacity(t *testing.T) {
	if got := New[int](0).Cap(); got != 1 {
		t.Errorf("Cap() = %d, want 1", got)
	}
}
