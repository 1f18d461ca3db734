package app

import (
	"context"
	"testing"

	"redline/api/internal/blob"
	"redline/api/internal/events"
	"redline/api/internal/store"
)

func TestSnapshotRestoreAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	blobs, err := blob.NewFileStore(dir)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	directory := store.NewStaticStore(SeedActors()...)

	first := New(directory, blobs, events.NewBroadcaster(), testDoc, Options{})
	if err := first.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := first.Checkout(ctx, testDoc, "usr_warren", "web"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := first.Approve(ctx, testDoc, "usr_gwen", "usr_gwen", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// A fresh service over the same data dir picks up where the first
	// left off: the lock survives, so does the approval.
	second := New(directory, blobs, events.NewBroadcaster(), testDoc, Options{})
	if err := second.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}

	status, err := second.Status(ctx, testDoc, "usr_warren")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	lock := status["lock"].(LockState)
	if !lock.Locked || lock.HolderID != "usr_warren" {
		t.Fatalf("lock not restored: %+v", lock)
	}

	state, err := second.ApprovalsState(ctx, testDoc)
	if err != nil {
		t.Fatalf("approvals state: %v", err)
	}
	summary := state["summary"].(events.Summary)
	if summary.ApprovedCount != 1 || summary.TotalApprovers != 4 {
		t.Fatalf("ledger not restored: %+v", summary)
	}

	// Restored state behaves: the holder can still check in.
	if _, err := second.CheckIn(ctx, testDoc, "usr_warren", "", ""); err != nil {
		t.Fatalf("checkin after restore: %v", err)
	}
}
