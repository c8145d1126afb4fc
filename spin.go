package videoshm

import "runtime"

// waitStrategy is an adaptive spin-then-sleep policy for the consumer's
// blocking wait. At steady frame rates the next frame usually lands
// within the spin window and the doorbell syscall is skipped entirely;
// when frames stop arriving the spin budget decays so an idle consumer
// parks quickly.
type waitStrategy struct {
	limit   int
	minSpin int
	maxSpin int
	incStep int
	decStep int
}

func newWaitStrategy() *waitStrategy {
	return &waitStrategy{
		limit:   2000,
		minSpin: 100,
		maxSpin: 20000,
		incStep: 200,
		decStep: 100,
	}
}

// wait spins on condition up to the current budget, then falls back to
// sleep (a bounded doorbell wait). The budget grows on spin hits and
// shrinks on misses. Returns whether the condition held on exit.
func (w *waitStrategy) wait(condition func() bool, sleep func()) bool {
	for i := 0; i < w.limit; i++ {
		if condition() {
			w.limit = min(w.limit+w.incStep, w.maxSpin)
			return true
		}
		if i&0x3F == 0 {
			runtime.Gosched()
		}
	}
	w.limit = max(w.limit-w.decStep, w.minSpin)
	sleep()
	return condition()
}
