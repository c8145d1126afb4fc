//go:build linux

package videoshm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testConfig returns a uniquely named channel so parallel tests and
// leftover state from crashed runs never collide. Slots are kept small;
// the protocol does not care about payload capacity.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		BaseName:     fmt.Sprintf("/vshmtest_%.8s", uuid.NewString()),
		RingSize:     30,
		MaxFrameSize: 4096,
	}
	t.Cleanup(func() {
		unlinkShm(cfg.segmentName())
		unlinkDoorbell(cfg.writeSemName())
		unlinkDoorbell(cfg.readSemName())
	})
	return cfg
}

func mustProducer(t *testing.T, cfg Config) *Producer {
	t.Helper()
	p, err := NewProducer(cfg)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func mustConsumer(t *testing.T, cfg Config) *Consumer {
	t.Helper()
	c, err := NewConsumer(cfg)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	payload := []byte("annex-b access unit")
	in := FrameMeta{
		TimestampMS: 12345,
		Keyframe:    1,
		Codec:       CodecH265,
		Width:       1920,
		Height:      1080,
		FPS:         30,
	}
	if err := prod.Write(payload, in); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, cfg.MaxFrameSize)
	var out FrameMeta
	n, err := cons.Read(buf, &out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("read %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("payload mismatch: %q", buf[:n])
	}
	if out.Sequence != 1 || out.Size != uint32(len(payload)) {
		t.Fatalf("meta seq=%d size=%d", out.Sequence, out.Size)
	}
	if out.TimestampMS != 12345 || out.Keyframe != 1 || out.Codec != CodecH265 {
		t.Fatalf("meta not preserved: %+v", out)
	}
	if out.Width != 1920 || out.Height != 1080 || out.FPS != 30 {
		t.Fatalf("dimensions not preserved: %+v", out)
	}
}

func TestReadWithoutNewFrame(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	buf := make([]byte, cfg.MaxFrameSize)
	if n, err := cons.Read(buf, nil); n != 0 || err != nil {
		t.Fatalf("empty ring: n=%d err=%v", n, err)
	}

	if err := prod.Write([]byte("f"), FrameMeta{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n, _ := cons.Read(buf, nil); n != 1 {
		t.Fatalf("n=%d, want 1", n)
	}
	// Same frame must not be served twice.
	if n, err := cons.Read(buf, nil); n != 0 || err != nil {
		t.Fatalf("reread: n=%d err=%v", n, err)
	}
}

func TestTimestampDefaulted(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	if err := prod.Write([]byte("x"), FrameMeta{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var meta FrameMeta
	buf := make([]byte, cfg.MaxFrameSize)
	if n, err := cons.Read(buf, &meta); n != 1 || err != nil {
		t.Fatalf("Read: n=%d err=%v", n, err)
	}
	if meta.TimestampMS == 0 {
		t.Fatal("timestamp not defaulted")
	}
}

func TestOversizeRejected(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)

	before := prod.Stats()
	widxBefore := prod.seg.writeIdx()

	err := prod.Write(make([]byte, cfg.MaxFrameSize+1), FrameMeta{})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}

	after := prod.Stats()
	if after.DroppedFrames != before.DroppedFrames+1 {
		t.Fatalf("dropped %d, want %d", after.DroppedFrames, before.DroppedFrames+1)
	}
	if after.TotalFrames != before.TotalFrames {
		t.Fatalf("frame count changed: %d -> %d", before.TotalFrames, after.TotalFrames)
	}
	if prod.seg.writeIdx() != widxBefore {
		t.Fatal("write_idx changed on rejected frame")
	}

	// Exactly at capacity is fine.
	if err := prod.Write(make([]byte, cfg.MaxFrameSize), FrameMeta{}); err != nil {
		t.Fatalf("capacity-sized write: %v", err)
	}
}

func TestMonotonicSequences(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	buf := make([]byte, cfg.MaxFrameSize)
	var meta FrameMeta
	var last uint32
	for i := 0; i < 10; i++ {
		if err := prod.Write([]byte{byte(i)}, FrameMeta{}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		n, err := cons.Read(buf, &meta)
		if n == 0 || err != nil {
			t.Fatalf("Read %d: n=%d err=%v", i, n, err)
		}
		if meta.Sequence <= last {
			t.Fatalf("sequence %d not above %d", meta.Sequence, last)
		}
		last = meta.Sequence
	}
}

func TestMissedFrameAccounting(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	buf := make([]byte, cfg.MaxFrameSize)
	var meta FrameMeta

	if err := prod.Write([]byte("a"), FrameMeta{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n, _ := cons.Read(buf, &meta); n == 0 {
		t.Fatal("expected frame")
	}

	// Publish 5 more while the consumer is idle; it must land on the
	// newest and count 4 as missed.
	for i := 0; i < 5; i++ {
		if err := prod.Write([]byte("b"), FrameMeta{}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if n, _ := cons.Read(buf, &meta); n == 0 {
		t.Fatal("expected frame")
	}
	if meta.Sequence != 6 {
		t.Fatalf("sequence %d, want 6", meta.Sequence)
	}
	stats, err := cons.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MissedFrames != 4 {
		t.Fatalf("missed %d, want 4", stats.MissedFrames)
	}
}

func TestLatestWinsAfterLapping(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	// Lap the 30-slot ring: only sequence 40 is current afterwards.
	for i := 1; i <= 40; i++ {
		if err := prod.Write([]byte{byte(i)}, FrameMeta{}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	buf := make([]byte, cfg.MaxFrameSize)
	var meta FrameMeta
	n, err := cons.Read(buf, &meta)
	if n == 0 || err != nil {
		t.Fatalf("Read: n=%d err=%v", n, err)
	}
	if meta.Sequence != 40 {
		t.Fatalf("sequence %d, want 40", meta.Sequence)
	}
	if buf[0] != 40 {
		t.Fatalf("payload %d, want 40", buf[0])
	}
	stats, _ := cons.Stats()
	if stats.MissedFrames != 39 {
		t.Fatalf("missed %d, want 39", stats.MissedFrames)
	}
}

func TestConsumerIsolation(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	c1 := mustConsumer(t, cfg)
	c2 := mustConsumer(t, cfg)
	c3 := mustConsumer(t, cfg)

	for i := 0; i < 3; i++ {
		if err := prod.Write([]byte("f"), FrameMeta{}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	buf := make([]byte, cfg.MaxFrameSize)
	var meta FrameMeta

	// c1 reads; c2 and c3 must be unaffected.
	if n, _ := c1.Read(buf, &meta); n == 0 {
		t.Fatal("c1 expected frame")
	}
	for _, c := range []*Consumer{c2, c3} {
		stats, err := c.Stats()
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.MissedFrames != 0 {
			t.Fatalf("idle consumer missed %d", stats.MissedFrames)
		}
		n, _ := c.Read(buf, &meta)
		if n == 0 || meta.Sequence != 3 {
			t.Fatalf("n=%d seq=%d, want latest frame 3", n, meta.Sequence)
		}
	}

	stats1, _ := c1.Stats()
	stats2, _ := c2.Stats()
	if stats1.MissedFrames != 2 || stats2.MissedFrames != 2 {
		t.Fatalf("missed c1=%d c2=%d, want 2 each", stats1.MissedFrames, stats2.MissedFrames)
	}
}

func TestActiveReaderAccounting(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)

	if got := prod.ActiveReaders(); got != 0 {
		t.Fatalf("readers %d, want 0", got)
	}
	c1 := mustConsumer(t, cfg)
	c2 := mustConsumer(t, cfg)
	if got := prod.ActiveReaders(); got != 2 {
		t.Fatalf("readers %d, want 2", got)
	}
	c1.Close()
	if got := prod.ActiveReaders(); got != 1 {
		t.Fatalf("readers %d, want 1", got)
	}
	c2.Close()
	if got := prod.ActiveReaders(); got != 0 {
		t.Fatalf("readers %d, want 0", got)
	}
}

func TestShortBuffer(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	if err := prod.Write(make([]byte, 100), FrameMeta{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, err := cons.Read(make([]byte, 10), nil)
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("err = %v, want ErrShortBuffer", err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	cfg := testConfig(t)
	mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	n, err := cons.Wait(ctx, make([]byte, cfg.MaxFrameSize), nil)
	if n != 0 || err != nil {
		t.Fatalf("Wait: n=%d err=%v, want timeout as (0, nil)", n, err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("returned after %s, before the deadline", elapsed)
	}
}

func TestWaitCancelled(t *testing.T) {
	cfg := testConfig(t)
	mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := cons.Wait(ctx, make([]byte, cfg.MaxFrameSize), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWaitWakesOnPublish(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	go func() {
		time.Sleep(50 * time.Millisecond)
		prod.Write([]byte("wake"), FrameMeta{})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	buf := make([]byte, cfg.MaxFrameSize)
	var meta FrameMeta
	n, err := cons.Wait(ctx, buf, &meta)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 4 || string(buf[:n]) != "wake" {
		t.Fatalf("n=%d payload=%q", n, buf[:n])
	}
}

func TestProducerNeverBlocksWithoutReaders(t *testing.T) {
	cfg := testConfig(t)
	cfg.RingSize = 1 // single slot, maximum overwrite pressure
	prod := mustProducer(t, cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if err := prod.Write([]byte("frame"), FrameMeta{}); err != nil {
				t.Errorf("Write %d: %v", i, err)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("producer blocked")
	}
	if stats := prod.Stats(); stats.TotalFrames != 1000 {
		t.Fatalf("frame count %d, want 1000", stats.TotalFrames)
	}
}

func TestSecondProducerRefused(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	_ = prod

	// The second init steals the channel by design (stale cleanup), so
	// refusal only applies within one segment generation: attach the
	// guard directly instead.
	guard, err := openDoorbell(cfg.writeSemName(), 1)
	if err != nil {
		t.Fatalf("open guard: %v", err)
	}
	defer guard.close()
	if guard.tryAcquire() {
		t.Fatal("write guard was not held by the producer")
	}
}

func TestConsumerWithoutProducer(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewConsumer(cfg)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestProtocolMismatch(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)

	// Corrupt the version in place; a fresh attach must refuse it.
	prod.seg.hdr.version = Version + 1
	_, err := NewConsumer(cfg)
	if !errors.Is(err, ErrProtocolMismatch) {
		t.Fatalf("err = %v, want ErrProtocolMismatch", err)
	}
}

func TestClosedHandles(t *testing.T) {
	cfg := testConfig(t)
	prod := mustProducer(t, cfg)
	cons := mustConsumer(t, cfg)

	if err := cons.Close(); err != nil {
		t.Fatalf("consumer close: %v", err)
	}
	if _, err := cons.Read(nil, nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("read after close: %v", err)
	}
	if _, err := cons.Stats(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("stats after close: %v", err)
	}
	if err := cons.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}

	if err := prod.Close(); err != nil {
		t.Fatalf("producer close: %v", err)
	}
	if err := prod.Write([]byte("x"), FrameMeta{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("write after close: %v", err)
	}
	if err := prod.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}
