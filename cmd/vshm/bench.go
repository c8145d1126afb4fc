package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camstream/videoshm"
)

func newBenchCommand(v *viper.Viper) *cobra.Command {
	var (
		frames    int
		frameSize int
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure publish/consume throughput on a private channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := channelConfig(v)
			if cfg.BaseName == videoshm.DefaultBaseName {
				// Keep soak traffic off the real channel namespace.
				cfg.BaseName = fmt.Sprintf("/vshm_bench_%d", os.Getpid())
			}
			if frameSize > cfg.MaxFrameSize {
				return fmt.Errorf("frame size %d exceeds slot capacity %d", frameSize, cfg.MaxFrameSize)
			}

			prod, err := videoshm.NewProducer(cfg)
			if err != nil {
				return err
			}
			defer prod.Close()
			cons, err := videoshm.NewConsumer(cfg)
			if err != nil {
				return err
			}
			defer cons.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			received := 0
			var latencySum time.Duration
			done := make(chan struct{})
			go func() {
				defer close(done)
				buf := make([]byte, cfg.MaxFrameSize)
				var meta videoshm.FrameMeta
				for ctx.Err() == nil {
					n, err := cons.Wait(ctx, buf, &meta)
					if err != nil || ctx.Err() != nil {
						return
					}
					if n > 0 {
						received++
						if now := videoshm.NowMillis(); now > meta.TimestampMS {
							latencySum += time.Duration(now-meta.TimestampMS) * time.Millisecond
						}
					}
				}
			}()

			payload := make([]byte, frameSize)
			start := time.Now()
			for i := 0; i < frames; i++ {
				if err := prod.Write(payload, videoshm.FrameMeta{Codec: videoshm.CodecH264}); err != nil {
					return err
				}
			}
			writeElapsed := time.Since(start)

			// Give the consumer a beat to drain the newest frame.
			time.Sleep(50 * time.Millisecond)
			cancel()
			<-done

			stats, err := cons.Stats()
			if err != nil {
				return err
			}
			perWrite := writeElapsed / time.Duration(frames)
			fmt.Printf("wrote %d x %s in %s (%s per write, %s/s)\n",
				frames, humanize.IBytes(uint64(frameSize)),
				writeElapsed.Round(time.Microsecond), perWrite,
				humanize.IBytes(uint64(float64(frames*frameSize)/writeElapsed.Seconds())))
			fmt.Printf("consumer saw %d frames, missed %d (latest-wins)\n",
				received, stats.MissedFrames)
			if received > 0 {
				fmt.Printf("mean wake-to-read latency %s\n", (latencySum / time.Duration(received)).Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&frames, "frames", 1000, "frames to publish")
	cmd.Flags().IntVar(&frameSize, "frame-size", 256*1024, "payload bytes per frame")
	return cmd
}
