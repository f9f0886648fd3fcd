package history

import (
	"errors"
	"testing"
	"time"

	"github.com/postalsys/flingr/internal/transfer"
)

func TestRecordAndListTransfers(t *testing.T) {
	store := newTestStore(t)

	base := time.UnixMilli(1_700_000_000_000).UTC()
	outcomes := []struct {
		code string
		out  transfer.Outcome
		at   time.Time
	}{
		{"4OPRA9", transfer.Outcome{TransferID: "t1", Status: transfer.Succeeded, Endpoint: "local", Bytes: 1000, Duration: 1500 * time.Millisecond}, base},
		{"4OPRA9", transfer.Outcome{TransferID: "t2", Status: transfer.Failed, Reason: transfer.ReasonConnection, Err: errors.New("x")}, base.Add(time.Minute)},
		{"OTHER1", transfer.Outcome{TransferID: "t3", Status: transfer.Cancelled, Endpoint: "wan", Bytes: 10}, base.Add(2 * time.Minute)},
	}
	for _, o := range outcomes {
		rec := RecordFromOutcome(o.code, "photo.jpg", 1000, o.out, o.at)
		if err := store.RecordTransfer(rec); err != nil {
			t.Fatalf("RecordTransfer(%s) failed: %v", o.out.TransferID, err)
		}
	}

	all, err := store.ListTransfers("", 0)
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(all) != 3 || all[0].TransferID != "t3" {
		t.Fatalf("ListTransfers(all) = %+v, want t3 first of 3", all)
	}

	mine, err := store.ListTransfers("4OPRA9", 0)
	if err != nil {
		t.Fatalf("ListTransfers(code) failed: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("ListTransfers(4OPRA9) returned %d, want 2", len(mine))
	}
	if mine[0].Status != "failed" || mine[0].Reason != "connection" {
		t.Errorf("latest = %s/%s, want failed/connection", mine[0].Status, mine[0].Reason)
	}
	first := mine[1]
	if first.Status != "succeeded" || first.Endpoint != "local" || first.BytesWritten != 1000 {
		t.Errorf("first = %+v", first)
	}
	if first.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", first.Duration)
	}
	if !first.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", first.StartedAt, base)
	}

	limited, err := store.ListTransfers("", 1)
	if err != nil {
		t.Fatalf("ListTransfers(limit) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListTransfers(limit 1) returned %d", len(limited))
	}
}

func TestRecordTransfer_Validation(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name string
		rec  TransferRecord
	}{
		{"no id", TransferRecord{ActivationCode: "X", Status: "succeeded"}},
		{"no code", TransferRecord{TransferID: "t", Status: "succeeded"}},
		{"bad status", TransferRecord{TransferID: "t", ActivationCode: "X", Status: "exploded"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.RecordTransfer(tt.rec); err == nil {
				t.Error("RecordTransfer() = nil, want error")
			}
		})
	}
}
