// Package videoshm distributes live encoded video frames from a single
// producing process to any number of unrelated consumer processes on the
// same host, over a POSIX shared-memory ring buffer.
//
// One Producer owns a channel's ring segment and publishes frames without
// ever blocking; Consumers attach independently, always read the newest
// published frame, and detect torn reads with a seqlock-style sequence
// check. A slow consumer misses frames; it can never slow the producer.
package videoshm
