package delivery

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Multiplier: 2}
	want := map[int]time.Duration{
		0: 0,
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
	}
	for failures, expected := range want {
		if got := b.Delay(failures); got != expected {
			t.Fatalf("Delay(%d) = %s, want %s", failures, got, expected)
		}
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	b := Backoff{Base: time.Second, Multiplier: 10, Max: 30 * time.Second}
	if got := b.Delay(5); got != 30*time.Second {
		t.Fatalf("expected cap at 30s, got %s", got)
	}
	unbounded := Backoff{Base: time.Second, Multiplier: 2}
	if got := unbounded.Delay(200); got != maxBackoff {
		t.Fatalf("expected default ceiling, got %s", got)
	}
}

func TestBackoffMultiplierBelowOneIsConstant(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Multiplier: 0.5}
	if got := b.Delay(3); got != 500*time.Millisecond {
		t.Fatalf("expected constant delay, got %s", got)
	}
}
