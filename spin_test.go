package videoshm

import "testing"

func TestWaitStrategyImmediate(t *testing.T) {
	s := newWaitStrategy()
	slept := false
	ok := s.wait(func() bool { return true }, func() { slept = true })
	if !ok {
		t.Fatal("wait returned false for an immediately true condition")
	}
	if slept {
		t.Fatal("slept although the condition was already true")
	}
}

func TestWaitStrategyFallsBackToSleep(t *testing.T) {
	s := newWaitStrategy()
	slept := false
	ok := s.wait(func() bool { return slept }, func() { slept = true })
	if !ok || !slept {
		t.Fatalf("ok=%v slept=%v, want condition satisfied after one sleep", ok, slept)
	}
}

func TestWaitStrategyBudgetAdapts(t *testing.T) {
	s := newWaitStrategy()
	start := s.limit

	// Spin successes grow the budget toward the max.
	calls := 0
	s.wait(func() bool { calls++; return calls > start/2 }, func() {})
	if s.limit <= start {
		t.Fatalf("budget %d did not grow from %d", s.limit, start)
	}

	// A sleep shrinks it back toward the min.
	grown := s.limit
	slept := false
	s.wait(func() bool { return slept }, func() { slept = true })
	if s.limit >= grown {
		t.Fatalf("budget %d did not shrink from %d", s.limit, grown)
	}
}
