package videoshm

import (
	"fmt"
	"strings"
)

// Defaults sized for 1080p H.264 at 30 fps: one second of buffering and
// half a megabyte of payload per slot.
const (
	DefaultBaseName     = "/video_stream"
	DefaultRingSize     = 30
	DefaultMaxFrameSize = 512 * 1024

	defaultWriteSemName = "/video_sem_write"
	defaultReadSemName  = "/video_sem_read"
)

// Config selects a channel and sizes its ring segment. The zero value,
// after applying defaults, is channel 0 with the legacy unsuffixed names.
//
// A channel is one independent ring segment, typically one
// resolution/framerate stream. Channel 0 keeps the historical unsuffixed
// object names; channel k > 0 appends ".k" to every name, so several
// segments coexist without colliding.
type Config struct {
	Channel      int
	BaseName     string // POSIX object name, defaults to DefaultBaseName
	RingSize     int    // slots per ring, defaults to DefaultRingSize
	MaxFrameSize int    // payload capacity per slot, defaults to DefaultMaxFrameSize
}

func (c *Config) applyDefaults() {
	if c.BaseName == "" {
		c.BaseName = DefaultBaseName
	}
	if c.RingSize == 0 {
		c.RingSize = DefaultRingSize
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.Channel < 0 {
		return fmt.Errorf("videoshm: negative channel %d", c.Channel)
	}
	if !strings.HasPrefix(c.BaseName, "/") || strings.Contains(c.BaseName[1:], "/") {
		return fmt.Errorf("videoshm: base name %q must be /name with no further slashes", c.BaseName)
	}
	if c.RingSize < 1 {
		return fmt.Errorf("videoshm: ring size %d, need at least 1 slot", c.RingSize)
	}
	if c.MaxFrameSize < 1 {
		return fmt.Errorf("videoshm: max frame size %d, need at least 1 byte", c.MaxFrameSize)
	}
	return nil
}

// suffix returns the per-channel name suffix. Channel 0 stays unsuffixed
// for compatibility with peers that predate multi-channel support.
func (c *Config) suffix() string {
	if c.Channel == 0 {
		return ""
	}
	return fmt.Sprintf(".%d", c.Channel)
}

func (c *Config) segmentName() string {
	return c.BaseName + c.suffix()
}

// writeSemName names the channel's write-guard semaphore. The guard is
// held by the producer for the lifetime of the channel; it is not taken
// on the data path. Channels on the default base keep the historical
// names; other bases derive their semaphore names so independent rings
// never share a doorbell.
func (c *Config) writeSemName() string {
	if c.BaseName == DefaultBaseName {
		return defaultWriteSemName + c.suffix()
	}
	return c.BaseName + "_sem_write" + c.suffix()
}

// readSemName names the channel's doorbell semaphore.
func (c *Config) readSemName() string {
	if c.BaseName == DefaultBaseName {
		return defaultReadSemName + c.suffix()
	}
	return c.BaseName + "_sem_read" + c.suffix()
}
