package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSystemSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := NewSystem().Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not return promptly on cancel")
	}
}

func TestSystemSleep_Elapses(t *testing.T) {
	if err := NewSystem().Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestFixed(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := NewFixed(now).Now(); !got.Equal(now) {
		t.Fatalf("expected %v, got %v", now, got)
	}
}
