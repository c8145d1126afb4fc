package videoshm

import (
	"fmt"
	"unsafe"
)

// Wire layout constants. The segment format is fixed and versioned: a
// 64-byte header followed by RingSize slots, each a 32-byte metadata block
// plus a fixed payload area. Producers and consumers built from different
// layout versions must never share a segment.
const (
	// Magic identifies a ring segment ("VIDE").
	Magic uint32 = 0x56494445
	// Version is the layout version stamped into the header.
	Version uint32 = 1

	headerSize    = 64
	frameMetaSize = 32
)

// Codec tags a frame's encoding in FrameMeta.
type Codec uint8

const (
	CodecH264 Codec = 0
	CodecH265 Codec = 1
	CodecJPEG Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecJPEG:
		return "jpeg"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// FrameMeta is the 32-byte per-slot metadata block. The field order and
// widths are part of the wire format.
//
// Sequence is assigned by the producer and is the publish barrier: it is
// the last field stored on write and the first checked on read.
type FrameMeta struct {
	TimestampMS uint64 // capture time, monotonic milliseconds
	Size        uint32 // payload bytes actually used
	Sequence    uint32 // producer-assigned monotonic id
	Keyframe    uint8  // 1 if I-frame
	Codec       Codec
	Width       uint16
	Height      uint16
	FPS         uint8
	_           [5]byte
}

// ringHeader is the 64-byte segment header. All mutable fields are
// accessed atomically through the mapping; readIdx is advisory only and
// nothing writes it after initialization.
type ringHeader struct {
	magic         uint32
	version       uint32
	writeIdx      uint32 // next slot the producer will use
	readIdx       uint32 // advisory hint, not authoritative
	frameCount    uint32 // total frames ever published, wraps
	droppedFrames uint32 // producer-side publish failures
	activeReaders uint32 // attached consumers, informational
	_             [9]uint32
}

// seqOffset is the byte offset of FrameMeta.Sequence within a slot.
const seqOffset = unsafe.Offsetof(FrameMeta{}.Sequence)

func init() {
	if s := unsafe.Sizeof(ringHeader{}); s != headerSize {
		panic(fmt.Sprintf("videoshm: ringHeader is %d bytes, want %d", s, headerSize))
	}
	if s := unsafe.Sizeof(FrameMeta{}); s != frameMetaSize {
		panic(fmt.Sprintf("videoshm: FrameMeta is %d bytes, want %d", s, frameMetaSize))
	}
}

// slotSize returns the byte size of one ring cell for a payload capacity.
func slotSize(maxFrameSize int) int {
	return frameMetaSize + maxFrameSize
}

// segmentSize returns the total byte size of a segment.
func segmentSize(ringSize, maxFrameSize int) int {
	return headerSize + ringSize*slotSize(maxFrameSize)
}
