//go:build linux

package videoshm

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// doorbell is a named cross-process counting semaphore built on a shared
// futex word. It is a wake hint, not an exact event counter: posts beyond
// the cap are dropped, and a waiter must re-derive "is there new data"
// from the ring header after every wake.
type doorbell struct {
	name string
	fd   int
	mem  []byte
	word *uint32
	cap  uint32
}

// doorbellSize keeps the futex word alone on its cache line.
const doorbellSize = 64

// createDoorbell creates the named doorbell with an initial count.
// Creation rights belong to the producer.
func createDoorbell(name string, initial, capacity uint32) (*doorbell, error) {
	fd, mem, err := createShm(name, doorbellSize)
	if err != nil {
		return nil, err
	}
	d := &doorbell{name: name, fd: fd, mem: mem, cap: capacity}
	d.word = (*uint32)(unsafe.Pointer(&mem[0]))
	atomic.StoreUint32(d.word, initial)
	return d, nil
}

// openDoorbell attaches to an existing doorbell without creating it.
func openDoorbell(name string, capacity uint32) (*doorbell, error) {
	fd, mem, _, err := openShm(name, doorbellSize)
	if err != nil {
		return nil, err
	}
	d := &doorbell{name: name, fd: fd, mem: mem, cap: capacity}
	d.word = (*uint32)(unsafe.Pointer(&mem[0]))
	return d, nil
}

// post increments the count and wakes one sleeper. Best-effort: at the
// cap the post is dropped rather than accumulated, so a burst of frames
// never turns into a backlog of stale wakeups.
func (d *doorbell) post() {
	for {
		v := atomic.LoadUint32(d.word)
		if v >= d.cap {
			return
		}
		if atomic.CompareAndSwapUint32(d.word, v, v+1) {
			futexWake(d.word, 1)
			return
		}
	}
}

// tryAcquire takes one count without blocking.
func (d *doorbell) tryAcquire() bool {
	for {
		v := atomic.LoadUint32(d.word)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(d.word, v, v-1) {
			return true
		}
	}
}

// wait blocks until a count can be taken or the timeout expires.
// d < 0 waits indefinitely; 0 is a non-blocking try. Returns true if a
// count was consumed.
func (d *doorbell) wait(timeout time.Duration) bool {
	if d.tryAcquire() {
		return true
	}
	if timeout == 0 {
		return false
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		remaining := time.Duration(-1)
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false
			}
		}
		err := futexWait(d.word, 0, remaining)
		if err == unix.ETIMEDOUT {
			return d.tryAcquire()
		}
		// EAGAIN: the word moved before we slept. EINTR: signal. Either
		// way, retry the acquire and re-check the deadline.
		if d.tryAcquire() {
			return true
		}
		if err != nil && err != unix.EAGAIN && err != unix.EINTR && err != unix.ETIMEDOUT {
			return false
		}
	}
}

func (d *doorbell) close() {
	if d == nil {
		return
	}
	closeShm(d.fd, d.mem)
	d.mem = nil
	d.fd = -1
	d.word = nil
}

func unlinkDoorbell(name string) error {
	return unlinkShm(name)
}

func (d *doorbell) String() string {
	return fmt.Sprintf("doorbell(%s)", d.name)
}
