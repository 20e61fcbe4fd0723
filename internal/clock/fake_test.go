package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncOrder(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	var order []int

	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	stopped := c.AfterFunc(1500*time.Millisecond, func() { order = append(order, 99) })

	if !stopped.Stop() {
		t.Error("Stop() on pending timer = false, want true")
	}

	c.Advance(3 * time.Second)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeTicker(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	c.Advance(time.Minute)
	select {
	case <-tk.C:
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	c.Advance(30 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("ticker fired early")
	default:
	}
}

func TestFakeAfter(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ch := c.After(time.Second)

	done := make(chan struct{})
	go func() {
		<-ch
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("After channel did not fire")
	}
}
