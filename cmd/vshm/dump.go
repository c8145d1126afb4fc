package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camstream/videoshm"
)

func newDumpCommand(v *viper.Viper) *cobra.Command {
	var (
		outPath      string
		count        int
		waitProducer bool
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Consume frames and write their payloads to a file",
		Long: `Dump attaches to a channel as a consumer and appends each received
payload to the output, newest frame first when it falls behind. With
--wait-producer it blocks until the producer creates the segment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := channelConfig(v)
			if waitProducer {
				if err := videoshm.WaitForProducer(ctx, cfg); err != nil {
					return err
				}
			}
			cons, err := videoshm.NewConsumer(cfg)
			if err != nil {
				return err
			}
			defer cons.Close()

			var out io.Writer = os.Stdout
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			info, err := cons.SegmentInfo()
			if err != nil {
				return err
			}
			buf := make([]byte, info.MaxFrameSize)
			var meta videoshm.FrameMeta
			received := 0
			for count == 0 || received < count {
				n, err := cons.Wait(ctx, buf, &meta)
				if err != nil {
					return err
				}
				if ctx.Err() != nil {
					break
				}
				if n == 0 {
					continue
				}
				if _, err := out.Write(buf[:n]); err != nil {
					return err
				}
				received++
			}

			stats, err := cons.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "received %d frames, missed %d, producer dropped %d\n",
				received, stats.MissedFrames, stats.DroppedFrames)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file (- for stdout)")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many frames (0 = run until interrupted)")
	cmd.Flags().BoolVar(&waitProducer, "wait-producer", false, "wait for the segment to appear before attaching")
	return cmd
}
