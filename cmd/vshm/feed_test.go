package main

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestFeedRejectsBadFPS(t *testing.T) {
	for _, fps := range []string{"0", "-5"} {
		cmd := newFeedCommand(viper.New())
		if err := cmd.Flags().Set("fps", fps); err != nil {
			t.Fatalf("set fps: %v", err)
		}
		err := cmd.RunE(cmd, nil)
		if err == nil || !strings.Contains(err.Error(), "fps") {
			t.Fatalf("fps=%s: err = %v, want fps validation error", fps, err)
		}
	}
}
