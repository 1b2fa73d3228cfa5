package ratelimit

import (
	"testing"
	"time"
)

func TestRateGateFirstCallNeverWaits(t *testing.T) {
	g := NewRateGate()
	var slept time.Duration
	g.sleep = func(d time.Duration) { slept = d }

	g.Wait("https://nike.com/a", 5)
	if slept != 0 {
		t.Errorf("first Wait() for a host should not sleep, slept %v", slept)
	}
}

func TestRateGateWaitsRemainingDelayOnSecondCall(t *testing.T) {
	g := NewRateGate()
	clock := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }
	var slept time.Duration
	g.sleep = func(d time.Duration) { slept = d }

	g.Wait("https://nike.com/a", 5)
	clock = clock.Add(2 * time.Second)
	g.Wait("https://nike.com/b", 5)

	if slept != 3*time.Second {
		t.Errorf("expected to sleep for the remaining 3s, slept %v", slept)
	}
}

func TestRateGateDoesNotWaitOnceDelayHasElapsed(t *testing.T) {
	g := NewRateGate()
	clock := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }
	var slept time.Duration
	g.sleep = func(d time.Duration) { slept = d }

	g.Wait("https://nike.com/a", 5)
	clock = clock.Add(10 * time.Second)
	g.Wait("https://nike.com/b", 5)

	if slept != 0 {
		t.Errorf("expected no sleep once delay has already elapsed, slept %v", slept)
	}
}

func TestRateGateTracksHostsIndependently(t *testing.T) {
	g := NewRateGate()
	var slept time.Duration
	g.sleep = func(d time.Duration) { slept = d }

	g.Wait("https://nike.com/a", 5)
	g.Wait("https://adidas.com/a", 5)

	if slept != 0 {
		t.Errorf("distinct hosts should not share pacing, slept %v", slept)
	}
}

func TestRateGateZeroDelaySkipsEntirely(t *testing.T) {
	g := NewRateGate()
	called := false
	g.sleep = func(d time.Duration) { called = true }

	g.Wait("https://nike.com/a", 0)
	g.Wait("https://nike.com/a", 0)
	if called {
		t.Error("delaySeconds <= 0 should never sleep")
	}
}
