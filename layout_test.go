package videoshm

import (
	"testing"
	"unsafe"
)

func TestLayoutSizes(t *testing.T) {
	if s := unsafe.Sizeof(ringHeader{}); s != headerSize {
		t.Fatalf("ringHeader size %d, want %d", s, headerSize)
	}
	if s := unsafe.Sizeof(FrameMeta{}); s != frameMetaSize {
		t.Fatalf("FrameMeta size %d, want %d", s, frameMetaSize)
	}
	if seqOffset != 12 {
		t.Fatalf("sequence offset %d, want 12", seqOffset)
	}
}

func TestHeaderFieldOffsets(t *testing.T) {
	var h ringHeader
	offsets := map[string]uintptr{
		"magic":         unsafe.Offsetof(h.magic),
		"version":       unsafe.Offsetof(h.version),
		"writeIdx":      unsafe.Offsetof(h.writeIdx),
		"readIdx":       unsafe.Offsetof(h.readIdx),
		"frameCount":    unsafe.Offsetof(h.frameCount),
		"droppedFrames": unsafe.Offsetof(h.droppedFrames),
		"activeReaders": unsafe.Offsetof(h.activeReaders),
	}
	want := map[string]uintptr{
		"magic": 0, "version": 4, "writeIdx": 8, "readIdx": 12,
		"frameCount": 16, "droppedFrames": 20, "activeReaders": 24,
	}
	for name, off := range want {
		if offsets[name] != off {
			t.Fatalf("%s at offset %d, want %d", name, offsets[name], off)
		}
	}
}

func TestSegmentSize(t *testing.T) {
	if got := segmentSize(30, 512*1024); got != 64+30*(32+512*1024) {
		t.Fatalf("segmentSize = %d", got)
	}
	if got := slotSize(4096); got != 32+4096 {
		t.Fatalf("slotSize = %d", got)
	}
}

func TestCodecString(t *testing.T) {
	for codec, want := range map[Codec]string{
		CodecH264: "h264",
		CodecH265: "h265",
		CodecJPEG: "jpeg",
		Codec(9):  "codec(9)",
	} {
		if got := codec.String(); got != want {
			t.Fatalf("Codec(%d).String() = %q, want %q", uint8(codec), got, want)
		}
	}
}
