package clock

import (
	"testing"
	"time"
)

func TestFake_NowAndAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if !f.Now().Equal(start) {
		t.Fatalf("Now: got %v, want %v", f.Now(), start)
	}
	f.Advance(90 * time.Second)
	if got := f.Now().Sub(start); got != 90*time.Second {
		t.Errorf("elapsed: got %v, want 90s", got)
	}
}

func TestFake_Ticker(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(5 * time.Second)
	defer tk.Stop()

	f.Advance(4 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("ticker fired before its period")
	default:
	}

	f.Advance(time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("ticker did not fire at its period")
	}
}

func TestFake_StoppedTickerIsSilent(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(time.Second)
	tk.Stop()

	f.Advance(10 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	if got.Before(before) {
		t.Errorf("Real().Now() went backwards: %v < %v", got, before)
	}
}
