package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camstream/videoshm"
)

func newStatCommand(v *viper.Viper) *cobra.Command {
	var (
		watch         time.Duration
		metricsListen string
	)
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Show channel header and consumer statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cons, err := videoshm.NewConsumer(channelConfig(v))
			if err != nil {
				return err
			}
			defer cons.Close()

			if metricsListen != "" {
				reg := prometheus.NewRegistry()
				reg.MustRegister(videoshm.NewCollector(cons))
				srv := &http.Server{
					Addr:    metricsListen,
					Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				}
				go func() {
					<-ctx.Done()
					srv.Close()
				}()
				go srv.ListenAndServe()
				fmt.Printf("serving metrics on %s/metrics\n", metricsListen)
			}

			if err := printStat(cons); err != nil {
				return err
			}
			if watch == 0 && metricsListen == "" {
				return nil
			}
			if watch == 0 {
				<-ctx.Done()
				return nil
			}
			ticker := time.NewTicker(watch)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := printStat(cons); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "refresh interval (0 = print once)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	return cmd
}

func printStat(cons *videoshm.Consumer) error {
	info, err := cons.SegmentInfo()
	if err != nil {
		return err
	}
	stats, err := cons.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("%s: v%d, %d slots x %s (%s total), write_idx=%d\n",
		info.SegmentName, info.Version, info.RingSize,
		humanize.IBytes(uint64(info.MaxFrameSize)),
		humanize.IBytes(uint64(info.SegmentBytes)),
		info.WriteIdx)
	fmt.Printf("  frames=%d dropped=%d readers=%d missed_here=%d\n",
		stats.TotalFrames, stats.DroppedFrames, info.ActiveReaders, stats.MissedFrames)
	return nil
}
