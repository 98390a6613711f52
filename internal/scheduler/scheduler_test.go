package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("interval 为 0 且无 cron 时应报错")
	}
	if _, err := New(Options{Cron: "61 * * * *"}, zerolog.Nop()); err == nil {
		t.Fatal("非法 cron 应报错")
	}
}

func TestNextTickAligned(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC)
	if got, want := s.NextTick(now), time.Date(2024, 6, 3, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next tick 不正确: %v, want %v", got, want)
	}

	onBoundary := time.Date(2024, 6, 3, 11, 0, 0, 0, time.UTC)
	if got, want := s.NextTick(onBoundary), time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("边界 next tick 不正确: %v, want %v", got, want)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s, err := New(Options{Interval: 90 * time.Minute}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC)
	if got := s.NextTick(now); !got.Equal(now.Add(90 * time.Minute)) {
		t.Fatalf("next tick 不正确: %v", got)
	}
}

func TestNextTickCron(t *testing.T) {
	s, err := New(Options{Cron: "30 16 * * 1-5", Location: time.UTC}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Friday afternoon after the close rolls over to Monday.
	friday := time.Date(2024, 6, 7, 17, 0, 0, 0, time.UTC)
	want := time.Date(2024, 6, 10, 16, 30, 0, 0, time.UTC)
	if got := s.NextTick(friday); !got.Equal(want) {
		t.Fatalf("cron next tick 不正确: %v, want %v", got, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) >= 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run 应返回 context.Canceled, 实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("Run 未在取消后退出")
	}
	if ticks.Load() < 2 {
		t.Fatalf("至少应执行两次, 实际 %d", ticks.Load())
	}
}
