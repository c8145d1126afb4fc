//go:build linux

package videoshm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// segment is one mapped ring: the 64-byte header followed by ringSize
// slots. All header fields and slot sequence words are touched through
// atomics; everything else in a slot is guarded by the seqlock protocol.
type segment struct {
	name     string
	fd       int
	mem      []byte
	hdr      *ringHeader
	ino      uint64
	ringSize int
	frameCap int
}

// createSegment builds a fresh zeroed segment and stamps its identity.
// The magic is stored last so a concurrent attacher never validates a
// half-initialized header.
func createSegment(cfg *Config) (*segment, error) {
	size := segmentSize(cfg.RingSize, cfg.MaxFrameSize)
	fd, mem, err := createShm(cfg.segmentName(), size)
	if err != nil {
		return nil, err
	}
	s := newSegment(cfg, fd, mem)
	ino, err := statShm(cfg.segmentName())
	if err != nil {
		s.close()
		return nil, err
	}
	s.ino = ino
	atomic.StoreUint32(&s.hdr.version, Version)
	atomic.StoreUint32(&s.hdr.magic, Magic)
	return s, nil
}

// attachSegment maps an existing segment and validates its identity.
func attachSegment(cfg *Config) (*segment, error) {
	size := segmentSize(cfg.RingSize, cfg.MaxFrameSize)
	fd, mem, ino, err := openShm(cfg.segmentName(), size)
	if err != nil {
		return nil, err
	}
	s := newSegment(cfg, fd, mem)
	s.ino = ino
	if m := atomic.LoadUint32(&s.hdr.magic); m != Magic {
		s.close()
		return nil, fmt.Errorf("%w: magic 0x%08X, want 0x%08X", ErrProtocolMismatch, m, Magic)
	}
	if v := atomic.LoadUint32(&s.hdr.version); v != Version {
		s.close()
		return nil, fmt.Errorf("%w: version %d, want %d", ErrProtocolMismatch, v, Version)
	}
	return s, nil
}

func newSegment(cfg *Config, fd int, mem []byte) *segment {
	return &segment{
		name:     cfg.segmentName(),
		fd:       fd,
		mem:      mem,
		hdr:      (*ringHeader)(unsafe.Pointer(&mem[0])),
		ringSize: cfg.RingSize,
		frameCap: cfg.MaxFrameSize,
	}
}

func (s *segment) close() {
	closeShm(s.fd, s.mem)
	s.mem = nil
	s.fd = -1
	s.hdr = nil
}

// gone reports whether the named object was unlinked or replaced since
// this mapping was established.
func (s *segment) gone() bool {
	ino, err := statShm(s.name)
	return err != nil || ino != s.ino
}

func (s *segment) slotOffset(idx int) int {
	return headerSize + idx*slotSize(s.frameCap)
}

// slotMeta returns the metadata block of slot idx. Callers must apply
// the seqlock discipline before trusting its contents.
func (s *segment) slotMeta(idx int) *FrameMeta {
	return (*FrameMeta)(unsafe.Pointer(&s.mem[s.slotOffset(idx)]))
}

// slotSeq returns the address of slot idx's sequence word.
func (s *segment) slotSeq(idx int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[s.slotOffset(idx)+int(seqOffset)]))
}

// slotPayload returns the full payload area of slot idx.
func (s *segment) slotPayload(idx int) []byte {
	off := s.slotOffset(idx) + frameMetaSize
	return s.mem[off : off+s.frameCap]
}

// newestSlot returns the index of the most recently published slot: the
// one just before the producer's next write position.
func (s *segment) newestSlot() int {
	w := int(s.writeIdx()) % s.ringSize
	return (w + s.ringSize - 1) % s.ringSize
}

func (s *segment) frameCount() uint32 {
	return atomic.LoadUint32(&s.hdr.frameCount)
}

func (s *segment) writeIdx() uint32 {
	return atomic.LoadUint32(&s.hdr.writeIdx)
}

func (s *segment) dropped() uint32 {
	return atomic.LoadUint32(&s.hdr.droppedFrames)
}

func (s *segment) activeReaders() uint32 {
	return atomic.LoadUint32(&s.hdr.activeReaders)
}

// addReader adjusts the attached-consumer count; pass ^uint32(0) to
// decrement.
func (s *segment) addReader(delta uint32) {
	atomic.AddUint32(&s.hdr.activeReaders, delta)
}

func (s *segment) addDropped() {
	atomic.AddUint32(&s.hdr.droppedFrames, 1)
}
