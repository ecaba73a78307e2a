package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"

	rcsync "github.com/rollcall-dev/rollcall/internal/sync"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue(quartz.NewMock(t))
	ctx := context.Background()

	for _, id := range []string{"A1", "B2", "A1"} {
		if err := q.Push(Item{Kind: ItemEvent, Job: rcsync.Job{Identifier: id}}); err != nil {
			t.Fatalf("Push() failed: %v", err)
		}
	}
	q.Close()

	if err := q.Push(Item{Kind: ItemEvent}); err != ErrQueueClosed {
		t.Errorf("Push() after Close() = %v, want ErrQueueClosed", err)
	}
	if q.Len() != 4 {
		t.Errorf("Len() = %d, want 4", q.Len())
	}

	var got []string
	for {
		it, ok := q.Pop(ctx, time.Second)
		if !ok {
			t.Fatal("Pop() returned nothing before the sentinel")
		}
		if it.Kind == ItemShutdown {
			break
		}
		got = append(got, it.Job.Identifier)
	}
	want := []string{"A1", "B2", "A1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Pop() order = %v, want %v", got, want)
		}
	}
}

func TestQueuePopTimeout(t *testing.T) {
	q := NewQueue(quartz.NewReal())

	start := time.Now()
	if _, ok := q.Pop(context.Background(), 20*time.Millisecond); ok {
		t.Fatal("Pop() on an empty queue should time out")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Pop() returned before the wait elapsed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Pop(ctx, time.Hour); ok {
		t.Error("Pop() with a cancelled context should return false")
	}
}

func TestQueuePopWakesOnPush(t *testing.T) {
	q := NewQueue(quartz.NewReal())

	done := make(chan Item)
	go func() {
		it, _ := q.Pop(context.Background(), 5*time.Second)
		done <- it
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(Item{Kind: ItemResync})

	select {
	case it := <-done:
		if it.Kind != ItemResync {
			t.Errorf("Pop() = %v, want resync", it.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop() did not wake on Push()")
	}
}
