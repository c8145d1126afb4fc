package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camstream/videoshm"
)

func newFeedCommand(v *viper.Viper) *cobra.Command {
	var (
		fps       int
		frameSize int
		count     int
		gopSize   int
		codecName string
		width     int
		height    int
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Publish synthetic frames on a channel",
		Long: `Feed creates the channel as its producer and publishes generated
frames at a fixed rate until interrupted or the frame count is reached.
It stands in for the camera pipeline during bring-up and soak tests.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fps < 1 {
				return fmt.Errorf("fps must be at least 1, got %d", fps)
			}
			codec, err := parseCodec(codecName)
			if err != nil {
				return err
			}
			prod, err := videoshm.NewProducer(channelConfig(v))
			if err != nil {
				return err
			}
			defer prod.Close()

			payload := make([]byte, frameSize)
			for i := range payload {
				payload[i] = byte(i)
			}
			meta := videoshm.FrameMeta{
				Codec:  codec,
				Width:  uint16(width),
				Height: uint16(height),
				FPS:    uint8(fps),
			}

			ticker := time.NewTicker(time.Second / time.Duration(fps))
			defer ticker.Stop()
			report := time.NewTicker(5 * time.Second)
			defer report.Stop()

			ctx := cmd.Context()
			written := 0
			start := time.Now()
			for count == 0 || written < count {
				select {
				case <-ctx.Done():
					return printFeedSummary(prod, written, start)
				case <-report.C:
					stats := prod.Stats()
					fmt.Printf("published %d frames (%s/s), dropped %d, readers %d\n",
						stats.TotalFrames,
						humanize.IBytes(uint64(float64(written*frameSize)/time.Since(start).Seconds())),
						stats.DroppedFrames,
						prod.ActiveReaders())
				case <-ticker.C:
					meta.Keyframe = 0
					if gopSize > 0 && written%gopSize == 0 {
						meta.Keyframe = 1
					}
					meta.TimestampMS = 0 // stamped by the producer
					if err := prod.Write(payload, meta); err != nil {
						return err
					}
					written++
				}
			}
			return printFeedSummary(prod, written, start)
		},
	}
	cmd.Flags().IntVar(&fps, "fps", 30, "frames per second")
	cmd.Flags().IntVar(&frameSize, "frame-size", 64*1024, "payload bytes per frame")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many frames (0 = run until interrupted)")
	cmd.Flags().IntVar(&gopSize, "gop", 30, "keyframe interval in frames (0 = none)")
	cmd.Flags().StringVar(&codecName, "codec", "h264", "codec tag (h264, h265, jpeg)")
	cmd.Flags().IntVar(&width, "width", 1920, "frame width tag")
	cmd.Flags().IntVar(&height, "height", 1080, "frame height tag")
	return cmd
}

func printFeedSummary(prod *videoshm.Producer, written int, start time.Time) error {
	stats := prod.Stats()
	fmt.Printf("done: %d frames in %s, %d dropped\n",
		written, time.Since(start).Round(time.Millisecond), stats.DroppedFrames)
	return nil
}
