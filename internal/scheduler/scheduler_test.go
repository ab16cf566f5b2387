package scheduler

import (
	"encoding/json"
	"testing"

	"feeproxy/internal/ledger"
)

func TestShareZeroDisablesDiversion(t *testing.T) {
	l := ledger.New()
	s := New(Policy{SharePercent: 0, DevelopRatio: 10}, l)

	l.OnPoolJob(ledger.Job{ID: "fee1", Difficulty: "d", Origin: ledger.OriginFee})
	main := ledger.Job{ID: "main1", Difficulty: "d", Origin: ledger.OriginMain}
	l.OnPoolJob(main)

	dec := s.NextOutboundJob(30, main)
	if dec.Origin != ledger.OriginMain {
		t.Fatalf("expected main with share=0, got %v", dec.Origin)
	}
	if l.SentLen(ledger.OriginFee) != 0 {
		t.Fatalf("expected SentLedger[fee] to stay empty with share=0")
	}
}

func TestShareHundredDivertsWheneverFeeAvailable(t *testing.T) {
	l := ledger.New()
	s := New(Policy{SharePercent: 100, DevelopRatio: 1000000}, l)

	l.OnPoolJob(ledger.Job{ID: "fee1", Difficulty: "d", Origin: ledger.OriginFee})
	main := ledger.Job{ID: "main1", Difficulty: "d", Origin: ledger.OriginMain}
	l.OnPoolJob(main)

	dec := s.NextOutboundJob(1, main)
	if dec.Origin != ledger.OriginFee {
		t.Fatalf("expected fee diversion at share=100, got %v", dec.Origin)
	}
	if dec.Job.ID != "fee1" {
		t.Fatalf("expected fee1, got %s", dec.Job.ID)
	}
}

func TestShareHundredFallsBackToMainWhenFeeEmpty(t *testing.T) {
	l := ledger.New()
	s := New(Policy{SharePercent: 100, DevelopRatio: 1000000}, l)

	main := ledger.Job{ID: "main1", Difficulty: "d", Origin: ledger.OriginMain}
	l.OnPoolJob(main)

	dec := s.NextOutboundJob(1, main)
	if dec.Origin != ledger.OriginMain {
		t.Fatalf("expected fallback to main when fee empty, got %v", dec.Origin)
	}
}

func TestDevelopCadenceTriesDevelopFirst(t *testing.T) {
	l := ledger.New()
	s := New(Policy{SharePercent: 100, DevelopRatio: 2}, l)

	l.OnPoolJob(ledger.Job{ID: "dev1", Difficulty: "d", Origin: ledger.OriginDevelop})
	l.OnPoolJob(ledger.Job{ID: "fee1", Difficulty: "d", Origin: ledger.OriginFee})
	main := ledger.Job{ID: "main1", Difficulty: "d", Origin: ledger.OriginMain}
	l.OnPoolJob(main)

	// First eligible slot: developCount becomes 1, 1%2 != 0 -> fee.
	dec1 := s.NextOutboundJob(1, main)
	if dec1.Origin != ledger.OriginFee {
		t.Fatalf("expected fee on first slot, got %v", dec1.Origin)
	}

	// Second eligible slot: developCount becomes 2, 2%2 == 0 -> develop.
	dec2 := s.NextOutboundJob(2, main)
	if dec2.Origin != ledger.OriginDevelop {
		t.Fatalf("expected develop on second slot, got %v", dec2.Origin)
	}
}

func TestRewriteEnvelopeIDSubstitutesGetWork(t *testing.T) {
	lastSeen := json.RawMessage(`42`)
	got := RewriteEnvelopeID(json.RawMessage(`5`), 100, lastSeen)
	if string(got) != string(lastSeen) {
		t.Fatalf("expected substitution for GetWorkID, got %s", got)
	}
}

func TestRewriteEnvelopeIDSubstitutesShareIndex(t *testing.T) {
	lastSeen := json.RawMessage(`42`)
	got := RewriteEnvelopeID(json.RawMessage(`77`), 77, lastSeen)
	if string(got) != string(lastSeen) {
		t.Fatalf("expected substitution for matching share index, got %s", got)
	}
}

func TestRewriteEnvelopeIDLeavesOthersAlone(t *testing.T) {
	original := json.RawMessage(`0`)
	got := RewriteEnvelopeID(original, 77, json.RawMessage(`42`))
	if string(got) != string(original) {
		t.Fatalf("expected no substitution, got %s", got)
	}
}

func TestRewriteEnvelopeIDNeverRewritesZero(t *testing.T) {
	// A fresh WorkerState has shareIndex == 0, and job notifications carry
	// id:0 — the zero/zero coincidence must not trigger substitution, even
	// when minerLastSeenID is nil (nothing seen from the miner yet).
	original := json.RawMessage(`0`)
	got := RewriteEnvelopeID(original, 0, nil)
	if string(got) != string(original) {
		t.Fatalf("expected id:0 left untouched, got %s", got)
	}
}

func TestSubmissionStateMachine(t *testing.T) {
	l := ledger.New()
	s := New(Policy{SharePercent: 0, DevelopRatio: 10}, l)

	if s.TransitionOnSubmit(ledger.OriginFee) != StateInFlightFee {
		t.Fatalf("expected in-flight-fee")
	}
	s.ResolveToIdle()
	if s.State() != StateIdle {
		t.Fatalf("expected idle after resolve")
	}
}

func TestScaleHashrateAppliesShareRatio(t *testing.T) {
	got := ScaleHashrate("0x64", 50) // 100 * 0.5 = 50 = 0x32
	if got != "0x32" {
		t.Fatalf("expected 0x32, got %s", got)
	}
}

func TestScaleHashrateZeroShareIsZero(t *testing.T) {
	got := ScaleHashrate("0x64", 0)
	if got != "0x0" {
		t.Fatalf("expected 0x0 for zero share, got %s", got)
	}
}

func TestScaleHashrateUnparseableIsZero(t *testing.T) {
	got := ScaleHashrate("not-hex", 50)
	if got != "0x0" {
		t.Fatalf("expected 0x0 for unparseable input, got %s", got)
	}
}

func TestRandomWorkerNameLength(t *testing.T) {
	name, err := RandomWorkerName()
	if err != nil {
		t.Fatalf("random worker name: %v", err)
	}
	if len(name) != 7 {
		t.Fatalf("expected length 7, got %d (%q)", len(name), name)
	}
}
