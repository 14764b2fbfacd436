package testkit

import (
	"testing"
	"time"
)

func TestManualClockAdvance(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(base)
	c.Advance(5 * time.Second)
	if !c.Now().Equal(base.Add(5 * time.Second)) {
		t.Fatalf("expected advanced time, got %v", c.Now())
	}
}

func TestAssertDeterministicPassesForPureFunc(t *testing.T) {
	AssertDeterministic(t, func() any {
		return map[string]int{"a": 1, "b": 2}
	})
}
