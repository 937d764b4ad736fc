package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	c := Fake(epoch)
	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(epoch.Add(90 * time.Second)) {
		t.Errorf("expected %v, got %v", epoch.Add(90*time.Second), got)
	}
}

func TestFakeAfterFuncFiresOnce(t *testing.T) {
	c := Fake(epoch)
	calls := 0
	c.AfterFunc(10*time.Second, func() { calls++ })

	c.Advance(9 * time.Second)
	if calls != 0 {
		t.Fatalf("fired early: %d calls", calls)
	}
	c.Advance(time.Second)
	c.Advance(time.Hour)
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("expected Stop to report an active timer")
	}
	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("second Stop should report inactive")
	}
}

func TestFakeTickerDeliversAndStops(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(30 * time.Second)

	c.Advance(30 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("expected a tick")
	}

	ticker.Stop()
	c.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Error("tick after Stop")
	default:
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending waiters, got %d", c.Pending())
	}
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.AfterFunc(time.Second, func() {})
		close(done)
	}()
	c.WaitForTimers(1)
	<-done
	if c.Pending() != 1 {
		t.Errorf("expected 1 pending, got %d", c.Pending())
	}
}
