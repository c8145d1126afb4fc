//go:build linux

package videoshm

import (
	"fmt"
	"sync/atomic"
)

// Producer is the sole writer of a channel's ring segment. It creates the
// segment and both semaphores at init, unlinks them at Close, and never
// blocks on the data path: overwriting the oldest slot is always
// permitted, so consumer behavior can never stall the capture pipeline.
//
// A Producer is not safe for concurrent use; the protocol assumes exactly
// one writer per channel.
type Producer struct {
	cfg      Config
	seg      *segment
	doorbell *doorbell // wakes sleeping consumers, one post per publish
	guard    *doorbell // held for the channel's lifetime, never on the data path
	sequence uint32
}

// ProducerStats reports segment-wide publish counters.
type ProducerStats struct {
	TotalFrames   uint32
	DroppedFrames uint32
}

// NewProducer creates the channel's segment and semaphores, removing any
// stale instance a crashed producer left behind, and takes the channel's
// write guard so a second producer on the same channel fails fast.
func NewProducer(cfg Config) (*Producer, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// A previous producer may have crashed without unlinking. Start from
	// a clean slate so consumers never attach to a dead instance.
	unlinkShm(cfg.segmentName())
	unlinkDoorbell(cfg.writeSemName())
	unlinkDoorbell(cfg.readSemName())

	seg, err := createSegment(&cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	guard, err := createDoorbell(cfg.writeSemName(), 1, 1)
	if err != nil {
		seg.close()
		unlinkShm(cfg.segmentName())
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if !guard.tryAcquire() {
		guard.close()
		seg.close()
		unlinkShm(cfg.segmentName())
		unlinkDoorbell(cfg.writeSemName())
		return nil, fmt.Errorf("%w: channel %d already has a producer", ErrUnavailable, cfg.Channel)
	}
	bell, err := createDoorbell(cfg.readSemName(), 0, uint32(cfg.RingSize))
	if err != nil {
		guard.close()
		seg.close()
		unlinkShm(cfg.segmentName())
		unlinkDoorbell(cfg.writeSemName())
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	p := &Producer{cfg: cfg, seg: seg, doorbell: bell, guard: guard}
	defaultLogger.Info("producer initialized",
		"channel", cfg.Channel,
		"segment", cfg.segmentName(),
		"ring_size", cfg.RingSize,
		"frame_cap", cfg.MaxFrameSize)
	return p, nil
}

// Write publishes one frame. meta.Size and meta.Sequence are assigned
// here; a zero meta.TimestampMS is stamped with the current monotonic
// time. Oversize payloads return ErrFrameTooLarge, count as dropped, and
// leave the ring untouched. Write never blocks and never waits for any
// consumer.
func (p *Producer) Write(data []byte, meta FrameMeta) error {
	if p == nil || p.seg == nil {
		return ErrNotInitialized
	}
	if len(data) > p.seg.frameCap {
		p.seg.addDropped()
		defaultLogger.Debug("frame dropped: oversize",
			"size", len(data), "capacity", p.seg.frameCap, "dropped", p.seg.dropped())
		return ErrFrameTooLarge
	}

	seq := p.sequence + 1
	if seq == 0 {
		// Zero is the in-progress marker; skip it on wraparound.
		seq = 1
	}
	p.sequence = seq

	idx := int(p.seg.writeIdx()) % p.seg.ringSize
	slot := p.seg.slotMeta(idx)

	// Invalidate before touching the body: a reader lapped mid-copy must
	// see the sequence change on its after-check.
	atomic.StoreUint32(p.seg.slotSeq(idx), 0)

	slot.TimestampMS = meta.TimestampMS
	if slot.TimestampMS == 0 {
		slot.TimestampMS = NowMillis()
	}
	slot.Size = uint32(len(data))
	slot.Keyframe = meta.Keyframe
	slot.Codec = meta.Codec
	slot.Width = meta.Width
	slot.Height = meta.Height
	slot.FPS = meta.FPS
	copy(p.seg.slotPayload(idx), data)

	// Publish order: payload and metadata first, sequence last.
	atomic.StoreUint32(p.seg.slotSeq(idx), seq)
	atomic.StoreUint32(&p.seg.hdr.frameCount, seq)
	atomic.StoreUint32(&p.seg.hdr.writeIdx, uint32((idx+1)%p.seg.ringSize))

	p.doorbell.post()
	return nil
}

// Stats returns the segment-wide publish counters.
func (p *Producer) Stats() ProducerStats {
	if p == nil || p.seg == nil {
		return ProducerStats{}
	}
	return ProducerStats{
		TotalFrames:   p.seg.frameCount(),
		DroppedFrames: p.seg.dropped(),
	}
}

// ActiveReaders returns the number of currently attached consumers.
// Informational only.
func (p *Producer) ActiveReaders() int {
	if p == nil || p.seg == nil {
		return 0
	}
	return int(p.seg.activeReaders())
}

// Close releases the write guard and unlinks the segment and both
// semaphores. Only the producer ever destroys these objects; attached
// consumers keep their stale mappings and detect the teardown as a
// restart. Idempotent.
func (p *Producer) Close() error {
	if p == nil || p.seg == nil {
		return nil
	}
	defaultLogger.Info("producer destroyed",
		"channel", p.cfg.Channel,
		"total_frames", p.seg.frameCount(),
		"dropped_frames", p.seg.dropped())

	p.doorbell.close()
	p.guard.post()
	p.guard.close()
	p.seg.close()
	p.seg = nil

	var firstErr error
	for _, unlink := range []func() error{
		func() error { return unlinkDoorbell(p.cfg.readSemName()) },
		func() error { return unlinkDoorbell(p.cfg.writeSemName()) },
		func() error { return unlinkShm(p.cfg.segmentName()) },
	} {
		if err := unlink(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
