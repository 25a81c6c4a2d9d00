package record

import "testing"

func TestMetastreamNaming(t *testing.T) {
	if !IsMetastream("$$orders") {
		t.Error("$$orders should be a metastream")
	}
	if IsMetastream("orders") || IsMetastream("$orders") {
		t.Error("orders and $orders are not metastreams")
	}
	if MetastreamOf("orders") != "$$orders" {
		t.Errorf("MetastreamOf(orders) = %q", MetastreamOf("orders"))
	}
	if OriginalStreamOf("$$orders") != "orders" {
		t.Errorf("OriginalStreamOf($$orders) = %q", OriginalStreamOf("$$orders"))
	}
}

func TestRecordKinds(t *testing.T) {
	tests := []struct {
		rec  Record
		kind Kind
		pos  int64
	}{
		{&Prepare{LogPosition: 10}, KindPrepare, 10},
		{&Commit{LogPosition: 20}, KindCommit, 20},
		{&System{LogPosition: 30}, KindSystem, 30},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			if tc.rec.Kind() != tc.kind || tc.rec.Position() != tc.pos {
				t.Errorf("got (%v, %d), want (%v, %d)", tc.rec.Kind(), tc.rec.Position(), tc.kind, tc.pos)
			}
		})
	}
}

func TestPrepareSelfCommitted(t *testing.T) {
	if !(&Prepare{Role: SelfCommitted}).SelfCommitted() {
		t.Error("SelfCommitted role should report self-committed")
	}
	for _, r := range []TxnRole{TxnBegin, TxnData, TxnEnd} {
		if (&Prepare{Role: r}).SelfCommitted() {
			t.Errorf("role %v should not report self-committed", r)
		}
	}
}

func TestPrepareIsTombstone(t *testing.T) {
	if !(&Prepare{Tombstone: true}).IsTombstone() {
		t.Error("flagged prepare should be a tombstone")
	}
	if !(&Prepare{EventNumber: TombstoneEventNumber}).IsTombstone() {
		t.Error("prepare at the tombstone event number should be a tombstone")
	}
	if (&Prepare{EventNumber: 7}).IsTombstone() {
		t.Error("ordinary prepare is not a tombstone")
	}
}
