package worker

import (
	"testing"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

func TestDelay_FixedUsesConfiguredInterval(t *testing.T) {
	got := Delay(domain.BackoffFixed, 1, 1)
	if got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
}

func TestDelay_FixedFallsBackWithoutInterval(t *testing.T) {
	got := Delay(domain.BackoffFixed, 1, 0)
	if got != defaultFixedInterval {
		t.Fatalf("expected default interval %v, got %v", defaultFixedInterval, got)
	}
}

func TestDelay_ExponentialJitterStaysWithinBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := Delay(domain.BackoffExponentialJitter, attempt, 0)
		if d <= 0 || d > backoffCap+backoffCap/2 {
			t.Fatalf("attempt %d: delay %v out of expected bounds", attempt, d)
		}
	}
}

func TestDelay_ExponentialJitterCapsAtHighAttempts(t *testing.T) {
	d := Delay(domain.BackoffExponentialJitter, 30, 0)
	if d > backoffCap+backoffCap/2 {
		t.Fatalf("expected delay capped near %v, got %v", backoffCap, d)
	}
}
