// Command vshm inspects and exercises videoshm ring channels: a
// synthetic producer (feed), a frame sink (dump), live channel
// statistics (stat), and an in-process benchmark (bench).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camstream/videoshm"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "vshm",
		Short:         "Inspect and exercise shared-memory video channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.Int("channel", 0, "channel id")
	pf.String("base-name", videoshm.DefaultBaseName, "segment base name")
	pf.Int("ring-size", videoshm.DefaultRingSize, "slots per ring")
	pf.Int("max-frame-size", videoshm.DefaultMaxFrameSize, "payload capacity per slot in bytes")
	pf.String("config", "", "config file (yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := v.BindPFlags(pf); err != nil {
			return err
		}
		v.SetEnvPrefix("VSHM")
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		v.AutomaticEnv()
		if cfgFile := v.GetString("config"); cfgFile != "" {
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		}
		videoshm.SetLogger(newLogger(v.GetString("log-level")))
		return nil
	}

	root.AddCommand(
		newFeedCommand(v),
		newDumpCommand(v),
		newStatCommand(v),
		newBenchCommand(v),
	)
	return root
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func channelConfig(v *viper.Viper) videoshm.Config {
	return videoshm.Config{
		Channel:      v.GetInt("channel"),
		BaseName:     v.GetString("base-name"),
		RingSize:     v.GetInt("ring-size"),
		MaxFrameSize: v.GetInt("max-frame-size"),
	}
}

func parseCodec(s string) (videoshm.Codec, error) {
	switch strings.ToLower(s) {
	case "h264":
		return videoshm.CodecH264, nil
	case "h265", "hevc":
		return videoshm.CodecH265, nil
	case "jpeg", "mjpeg":
		return videoshm.CodecJPEG, nil
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}
