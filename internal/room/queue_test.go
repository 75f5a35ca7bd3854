package room

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// collector records delivered messages and can be told to fail.
type collector struct {
	mu       sync.Mutex
	messages []string
	failWith error
}

func (c *collector) deliver(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func (c *collector) setFailure(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestQueuePreservesOrder(t *testing.T) {
	c := &collector{}
	q := NewMessageQueue(c.deliver)

	const n = 20
	for i := 0; i < n; i++ {
		if err := q.Enqueue(fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return len(c.snapshot()) == n })

	for i, msg := range c.snapshot() {
		want := fmt.Sprintf("msg-%d", i)
		if msg != want {
			t.Errorf("messages[%d] = %q, want %q", i, msg, want)
		}
	}
}

func TestQueueDiesOnDeadTransport(t *testing.T) {
	c := &collector{}
	c.setFailure(io.EOF)
	q := NewMessageQueue(c.deliver)

	q.Enqueue("doomed")
	waitFor(t, time.Second, q.Dead)

	if err := q.Enqueue("after death"); !errors.Is(err, ErrQueueDead) {
		t.Errorf("Enqueue after death: err = %v, want ErrQueueDead", err)
	}
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("delivered %v after dead transport", got)
	}
}

func TestQueueRetriesTransientError(t *testing.T) {
	c := &collector{}
	c.setFailure(errors.New("temporary glitch"))
	q := NewMessageQueue(c.deliver)

	q.Enqueue("persistent")
	time.Sleep(50 * time.Millisecond)
	c.setFailure(nil)

	waitFor(t, 3*time.Second, func() bool { return len(c.snapshot()) == 1 })
	if got := c.snapshot()[0]; got != "persistent" {
		t.Errorf("delivered %q, want persistent", got)
	}
	if q.Dead() {
		t.Error("queue died on a transient error")
	}
}

func TestKillDiscardsPending(t *testing.T) {
	c := &collector{}
	q := NewMessageQueue(c.deliver)
	q.Kill()

	if err := q.Enqueue("x"); !errors.Is(err, ErrQueueDead) {
		t.Errorf("Enqueue after Kill: err = %v, want ErrQueueDead", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after Kill, want 0", q.Len())
	}
}
