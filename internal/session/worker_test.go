package session

import "testing"

func TestWorkerStateHashrateRoundTrip(t *testing.T) {
	w := newWorkerState()
	if got := w.hashrate(); got != "" {
		t.Fatalf("expected empty hashrate before any report, got %q", got)
	}
	w.noteHashrate("0x64")
	if got := w.hashrate(); got != "0x64" {
		t.Fatalf("expected 0x64, got %q", got)
	}
}
