package resilience

import (
	"testing"
	"time"
)

func testBreaker(breakFor time.Duration) *Breaker {
	return NewBreaker(BreakerConfig{
		FailureRatio:   0.5,
		SamplingWindow: time.Minute,
		BreakDuration:  breakFor,
		MinThroughput:  4,
	})
}

func TestBreakerStaysClosedBelowMinThroughput(t *testing.T) {
	b := testBreaker(time.Hour)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if !b.Allow() {
		t.Fatal("breaker opened below minimum throughput")
	}
	if b.State() != "closed" {
		t.Fatalf("state=%s, expected closed", b.State())
	}
}

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	b := testBreaker(time.Hour)

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure() // 2/4 = 0.5 >= ratio

	if b.Allow() {
		t.Fatal("breaker allowed a call after tripping")
	}
	if b.State() != "open" {
		t.Fatalf("state=%s, expected open", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := testBreaker(5 * time.Millisecond)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.Allow() {
		t.Fatal("expected open circuit")
	}

	time.Sleep(10 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe to be admitted after break duration")
	}
	// Only one probe at a time.
	if b.Allow() {
		t.Fatal("second concurrent probe admitted")
	}

	b.RecordSuccess()
	if b.State() != "closed" {
		t.Fatalf("state=%s after successful probe, expected closed", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed circuit rejected a call")
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := testBreaker(5 * time.Millisecond)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	time.Sleep(10 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe admission")
	}
	b.RecordFailure()

	if b.State() != "open" {
		t.Fatalf("state=%s after failed probe, expected open", b.State())
	}
	if b.Allow() {
		t.Fatal("re-opened circuit admitted a call")
	}
}
