package reporting

import (
	"testing"

	"feeproxy/internal/session"
)

func TestRegistryRecordGetUnregister(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get("abc"); ok {
		t.Fatalf("expected no snapshot for unknown session")
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got count %d", r.Count())
	}

	r.record(session.Snapshot{SessionID: "abc", WorkerName: "rig01", Accepted: 3})
	r.record(session.Snapshot{SessionID: "def", WorkerName: "rig02", Accepted: 1})

	if r.Count() != 2 {
		t.Fatalf("expected count 2, got %d", r.Count())
	}

	snap, ok := r.Get("abc")
	if !ok || snap.WorkerName != "rig01" || snap.Accepted != 3 {
		t.Fatalf("unexpected snapshot for abc: %+v (ok=%v)", snap, ok)
	}

	all := r.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 snapshots from GetAll, got %d", len(all))
	}

	r.Unregister("abc")
	if _, ok := r.Get("abc"); ok {
		t.Fatalf("expected abc to be gone after Unregister")
	}
	if r.Count() != 1 {
		t.Fatalf("expected count 1 after Unregister, got %d", r.Count())
	}
}

func TestRegistryRecordOverwritesBySessionID(t *testing.T) {
	r := NewRegistry()
	r.record(session.Snapshot{SessionID: "abc", Accepted: 1})
	r.record(session.Snapshot{SessionID: "abc", Accepted: 5})

	snap, ok := r.Get("abc")
	if !ok || snap.Accepted != 5 {
		t.Fatalf("expected latest record to win, got %+v", snap)
	}
}
