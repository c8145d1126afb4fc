//go:build linux

package videoshm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// tornRetryLimit bounds the seqlock retry loop. Past the limit the
// consumer steps back to the newest slot's stable predecessor instead of
// chasing the writer: a slightly stale frame beats blocking on a live
// feed.
const tornRetryLimit = 4

// genCheckInterval throttles the stat() probe that notices a producer
// restart behind an idle mapping.
const genCheckInterval = 500 * time.Millisecond

// waitSlice bounds each doorbell sleep so Wait can re-check its context.
const waitSlice = 100 * time.Millisecond

type consumerState int

const (
	stateDisconnected consumerState = iota
	stateAttaching
	stateActive
)

// Consumer attaches to an existing ring segment and always serves the
// latest published frame. It owns only its mapping, its doorbell handle
// and its private cursor; it can never slow the producer or affect
// another consumer.
//
// A Consumer is not safe for concurrent use by multiple goroutines.
type Consumer struct {
	cfg          Config
	seg          *segment
	doorbell     *doorbell
	readerID     string
	lastSequence uint32
	missed       uint64
	state        consumerState
	closed       bool
	spin         *waitStrategy
	lastGenCheck time.Time
}

// ConsumerStats reports frame accounting as seen by one consumer.
// TotalFrames and DroppedFrames are segment-wide; MissedFrames is this
// consumer's private cumulative gap count.
type ConsumerStats struct {
	TotalFrames   uint32
	DroppedFrames uint32
	MissedFrames  uint64
}

// SegmentInfo is a diagnostic snapshot of the attached segment.
type SegmentInfo struct {
	Channel       int
	SegmentName   string
	RingSize      int
	MaxFrameSize  int
	SegmentBytes  int
	Version       uint32
	WriteIdx      uint32
	FrameCount    uint32
	ActiveReaders uint32
}

// NewConsumer attaches to the channel's segment. It fails with
// ErrUnavailable when no producer has created the segment yet and with
// ErrProtocolMismatch when the segment's layout version differs.
func NewConsumer(cfg Config) (*Consumer, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Consumer{
		cfg:      cfg,
		readerID: uuid.NewString(),
		state:    stateDisconnected,
		spin:     newWaitStrategy(),
	}
	if err := c.attach(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) attach() error {
	c.state = stateAttaching
	seg, err := attachSegment(&c.cfg)
	if err != nil {
		c.state = stateDisconnected
		if errors.Is(err, ErrProtocolMismatch) {
			return err
		}
		return fmt.Errorf("%w: %s (producer not running?)", ErrUnavailable, err)
	}
	bell, err := openDoorbell(c.cfg.readSemName(), uint32(c.cfg.RingSize))
	if err != nil {
		seg.close()
		c.state = stateDisconnected
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	c.seg = seg
	c.doorbell = bell
	c.lastSequence = seg.frameCount()
	c.lastGenCheck = time.Now()
	seg.addReader(1)
	c.state = stateActive
	defaultLogger.Info("consumer attached",
		"channel", c.cfg.Channel,
		"reader_id", c.readerID,
		"starting_seq", c.lastSequence)
	return nil
}

// detectReset reports whether the producer restarted behind this
// consumer's mapping: the published count went backwards, or the named
// segment was unlinked or replaced.
func (c *Consumer) detectReset() bool {
	fc := c.seg.frameCount()
	if fc < c.lastSequence {
		return true
	}
	if fc != c.lastSequence {
		return false
	}
	// Idle ring: occasionally confirm the mapping still backs the name.
	if time.Since(c.lastGenCheck) < genCheckInterval {
		return false
	}
	c.lastGenCheck = time.Now()
	return c.seg.gone()
}

// reattach re-runs the attach sequence after a detected restart. The
// first frame observed afterwards is never counted as missed.
func (c *Consumer) reattach() error {
	defaultLogger.Info("producer restart detected, reattaching",
		"channel", c.cfg.Channel, "reader_id", c.readerID)
	c.seg.addReader(^uint32(0)) // best effort on the old instance
	c.seg.close()
	c.doorbell.close()
	c.seg = nil
	c.doorbell = nil
	return c.attach()
}

// Read returns the latest unseen frame without blocking. It returns
// (0, nil) when no new frame is available. A detected producer restart
// is handled internally: the consumer reattaches and reports no frame
// for this call. When the restart gap outlives the reattach attempt the
// handle stays detached and returns ErrUnavailable; every subsequent
// Read retries the attach, so the consumer recovers as soon as the
// producer is back.
func (c *Consumer) Read(buf []byte, meta *FrameMeta) (int, error) {
	if c == nil || c.closed {
		return 0, ErrNotInitialized
	}
	if c.seg == nil {
		if err := c.attach(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if c.detectReset() {
		if err := c.reattach(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return c.tryTakeLatest(buf, meta)
}

// tryTakeLatest is the shared read algorithm of Read and Wait: locate
// the newest published slot, copy it out, and validate the slot's
// sequence word before and after the copy. A mismatch means the producer
// lapped the ring mid-copy; retry, bounded, then fall back to the
// predecessor slot.
func (c *Consumer) tryTakeLatest(buf []byte, meta *FrameMeta) (int, error) {
	for attempt := 0; attempt <= tornRetryLimit+1; attempt++ {
		fc := c.seg.frameCount()
		if fc == 0 || fc == c.lastSequence {
			return 0, nil
		}
		idx := c.seg.newestSlot()
		if attempt > tornRetryLimit {
			idx = (idx + c.seg.ringSize - 1) % c.seg.ringSize
		}
		seqAddr := c.seg.slotSeq(idx)
		before := atomic.LoadUint32(seqAddr)
		if before == 0 {
			// Slot is mid-publish.
			continue
		}

		slot := c.seg.slotMeta(idx)
		m := FrameMeta{
			TimestampMS: slot.TimestampMS,
			Size:        slot.Size,
			Keyframe:    slot.Keyframe,
			Codec:       slot.Codec,
			Width:       slot.Width,
			Height:      slot.Height,
			FPS:         slot.FPS,
		}
		if int(m.Size) > c.seg.frameCap {
			// Torn metadata; the after-check would fail anyway.
			continue
		}
		if int(m.Size) > len(buf) {
			if atomic.LoadUint32(seqAddr) != before {
				// Torn size from a concurrent overwrite, not a real
				// short buffer.
				continue
			}
			return 0, fmt.Errorf("%w: frame %d bytes, buffer %d", ErrShortBuffer, m.Size, len(buf))
		}
		copy(buf[:m.Size], c.seg.slotPayload(idx)[:m.Size])

		if after := atomic.LoadUint32(seqAddr); after != before {
			// Torn read: the slot was overwritten mid-copy.
			continue
		}

		delta := before - c.lastSequence
		if delta == 0 || delta > 1<<31 {
			// The fallback slot can sit at or behind the cursor.
			return 0, nil
		}
		missed := uint64(delta - 1)
		c.missed += missed
		c.lastSequence = before
		if missed > 0 {
			defaultLogger.Debug("frames missed",
				"reader_id", c.readerID, "missed", missed, "seq", before)
		}
		m.Sequence = before
		if meta != nil {
			*meta = m
		}
		return int(m.Size), nil
	}
	return 0, nil
}

// Wait blocks until a new frame arrives, the context deadline expires,
// or the context is cancelled. A deadline expiry is a timeout, not an
// error: Wait returns (0, nil), matching Read's no-frame result. The
// doorbell is only a wake hint; availability is always re-derived from
// the ring header.
func (c *Consumer) Wait(ctx context.Context, buf []byte, meta *FrameMeta) (int, error) {
	if c == nil || c.closed {
		return 0, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		n, err := c.Read(buf, meta)
		if n > 0 || err != nil {
			return n, err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, nil
			}
			return 0, ctx.Err()
		default:
		}
		c.spin.wait(c.newData, func() {
			c.doorbell.wait(c.sleepSlice(ctx))
		})
	}
}

func (c *Consumer) newData() bool {
	fc := c.seg.frameCount()
	return fc != c.lastSequence
}

// sleepSlice bounds one doorbell sleep by the context deadline and by
// waitSlice, so cancellation and restart detection stay responsive.
func (c *Consumer) sleepSlice(ctx context.Context) time.Duration {
	slice := waitSlice
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < slice {
			if remaining < 0 {
				return 0
			}
			return remaining
		}
	}
	return slice
}

// Stats returns frame accounting: segment-wide totals plus this
// consumer's private missed count.
func (c *Consumer) Stats() (ConsumerStats, error) {
	if c == nil || c.closed {
		return ConsumerStats{}, ErrNotInitialized
	}
	if c.seg == nil {
		return ConsumerStats{}, fmt.Errorf("%w: consumer detached", ErrUnavailable)
	}
	return ConsumerStats{
		TotalFrames:   c.seg.frameCount(),
		DroppedFrames: c.seg.dropped(),
		MissedFrames:  c.missed,
	}, nil
}

// SegmentInfo returns a diagnostic snapshot of the attached segment.
func (c *Consumer) SegmentInfo() (SegmentInfo, error) {
	if c == nil || c.closed {
		return SegmentInfo{}, ErrNotInitialized
	}
	if c.seg == nil {
		return SegmentInfo{}, fmt.Errorf("%w: consumer detached", ErrUnavailable)
	}
	return SegmentInfo{
		Channel:       c.cfg.Channel,
		SegmentName:   c.cfg.segmentName(),
		RingSize:      c.seg.ringSize,
		MaxFrameSize:  c.seg.frameCap,
		SegmentBytes:  segmentSize(c.seg.ringSize, c.seg.frameCap),
		Version:       atomic.LoadUint32(&c.seg.hdr.version),
		WriteIdx:      c.seg.writeIdx(),
		FrameCount:    c.seg.frameCount(),
		ActiveReaders: c.seg.activeReaders(),
	}, nil
}

// ReaderID returns this consumer's opaque diagnostic id.
func (c *Consumer) ReaderID() string {
	return c.readerID
}

// Close detaches from the segment. It never unlinks anything; teardown
// rights belong to the producer. Idempotent.
func (c *Consumer) Close() error {
	if c == nil || c.closed {
		return nil
	}
	c.closed = true
	if c.seg != nil {
		c.seg.addReader(^uint32(0))
		defaultLogger.Info("consumer detached",
			"channel", c.cfg.Channel,
			"reader_id", c.readerID,
			"last_seq", c.lastSequence,
			"missed_frames", c.missed)
		c.doorbell.close()
		c.seg.close()
		c.seg = nil
		c.doorbell = nil
	}
	c.state = stateDisconnected
	return nil
}
