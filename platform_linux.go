//go:build linux

package videoshm

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// POSIX shared-memory objects live as plain files under /dev/shm. Opening
// them directly is equivalent to shm_open and keeps the module pure Go.
const shmDir = "/dev/shm"

// shmPath maps a POSIX object name ("/video_stream") to its backing file.
func shmPath(name string) string {
	return shmDir + "/" + strings.TrimPrefix(name, "/")
}

// createShm creates (or truncates over) a named object of the given size
// and maps it read-write. The fresh pages are zero-filled by the kernel.
func createShm(name string, size int) (int, []byte, error) {
	fd, err := unix.Open(shmPath(name), unix.O_RDWR|unix.O_CREAT, 0o666)
	if err != nil {
		return -1, nil, fmt.Errorf("open %s: %w", shmPath(name), err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("ftruncate %s: %w", shmPath(name), err)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("mmap %s: %w", shmPath(name), err)
	}
	return fd, mem, nil
}

// openShm maps an existing named object. It refuses objects smaller than
// minSize so a mapping can never fault past the end of a segment still
// being initialized by its creator.
func openShm(name string, minSize int) (int, []byte, uint64, error) {
	fd, err := unix.Open(shmPath(name), unix.O_RDWR, 0o666)
	if err != nil {
		return -1, nil, 0, fmt.Errorf("open %s: %w", shmPath(name), err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return -1, nil, 0, fmt.Errorf("fstat %s: %w", shmPath(name), err)
	}
	if st.Size < int64(minSize) {
		unix.Close(fd)
		return -1, nil, 0, fmt.Errorf("%s is %d bytes, need %d", shmPath(name), st.Size, minSize)
	}
	mem, err := unix.Mmap(fd, 0, minSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return -1, nil, 0, fmt.Errorf("mmap %s: %w", shmPath(name), err)
	}
	return fd, mem, st.Ino, nil
}

func closeShm(fd int, mem []byte) {
	if mem != nil {
		unix.Munmap(mem)
	}
	if fd >= 0 {
		unix.Close(fd)
	}
}

// unlinkShm removes a named object. Missing objects are not an error.
func unlinkShm(name string) error {
	if err := unix.Unlink(shmPath(name)); err != nil && err != unix.ENOENT {
		return fmt.Errorf("unlink %s: %w", shmPath(name), err)
	}
	return nil
}

// statShm returns the inode of a named object, or ENOENT once it is gone.
// The inode changes when a producer recreates the segment, which is how
// an attached consumer notices a restart behind its stale mapping.
func statShm(name string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(shmPath(name), &st); err != nil {
		return 0, err
	}
	return st.Ino, nil
}

// Futex op codes from <linux/futex.h>; x/sys/unix exports only the
// syscall numbers.
const (
	futexOpWait = 0
	futexOpWake = 1
)

// futexWait sleeps until *addr changes away from val, the timeout
// expires, or a signal interrupts the wait. d < 0 sleeps indefinitely.
// The futex is shared (no PRIVATE flag) so waiters and wakers can live in
// different processes.
func futexWait(addr *uint32, val uint32, d time.Duration) error {
	var tsp *unix.Timespec
	if d >= 0 {
		ts := unix.NsecToTimespec(d.Nanoseconds())
		tsp = &ts
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWait),
		uintptr(val),
		uintptr(unsafe.Pointer(tsp)),
		0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// futexWake wakes up to n processes sleeping on addr.
func futexWake(addr *uint32, n int) {
	unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWake),
		uintptr(n),
		0, 0, 0)
}

// NowMillis returns monotonic-clock milliseconds, the clock frames are
// timestamped with. Wall-clock time would jump under NTP corrections.
// Exposed so callers stamping their own FrameMeta.TimestampMS, or
// measuring capture-to-read latency, use the producer's clock.
func NowMillis() uint64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return uint64(ts.Sec)*1000 + uint64(ts.Nsec)/1_000_000
}
