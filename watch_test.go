//go:build linux

package videoshm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitForProducerSeesExistingSegment(t *testing.T) {
	cfg := testConfig(t)
	mustProducer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitForProducer(ctx, cfg); err != nil {
		t.Fatalf("WaitForProducer: %v", err)
	}
}

func TestWaitForProducerSeesCreation(t *testing.T) {
	cfg := testConfig(t)

	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errc <- WaitForProducer(ctx, cfg)
	}()

	time.Sleep(50 * time.Millisecond)
	mustProducer(t, cfg)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("WaitForProducer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never saw the segment")
	}
}

func TestWaitForProducerCancelled(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := WaitForProducer(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
