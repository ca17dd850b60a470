package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceRunsInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []string

	c.AfterFunc(30*time.Second, func() { order = append(order, "hard") })
	c.AfterFunc(15*time.Second, func() { order = append(order, "soft") })

	c.Advance(14 * time.Second)
	if len(order) != 0 {
		t.Fatalf("nothing should fire before 15s, got %v", order)
	}

	c.Advance(20 * time.Second)
	if len(order) != 2 || order[0] != "soft" || order[1] != "hard" {
		t.Errorf("order = %v, want [soft hard]", order)
	}
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("first Stop should report true")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}

	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d, want 0", c.Pending())
	}
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if got := c.Now(); !got.Equal(time.Unix(10, 0)) {
		t.Errorf("now = %v, want 10s", got)
	}
}

func TestReal_AfterFunc(t *testing.T) {
	c := Real()
	fired := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}

	timer := c.AfterFunc(time.Hour, func() { t.Error("stopped timer fired") })
	if !timer.Stop() {
		t.Error("Stop should report true for an armed timer")
	}
	if c.Now().IsZero() {
		t.Error("Now returned the zero time")
	}
}
