package store

import (
	"context"
	"testing"
)

func TestStaticStoreActors(t *testing.T) {
	ctx := context.Background()
	s := NewStaticStore(
		Actor{ID: "usr_a", DisplayName: "A", Role: "editor", Platform: "web"},
		Actor{ID: "usr_b", DisplayName: "B", Role: "viewer", Platform: "word"},
	)

	actors, err := s.ListActors(ctx)
	if err != nil {
		t.Fatalf("ListActors: %v", err)
	}
	if len(actors) != 2 || actors[0].ID != "usr_a" {
		t.Fatalf("directory order not preserved: %+v", actors)
	}

	if _, err := s.GetActor(ctx, "usr_b"); err != nil {
		t.Fatalf("GetActor: %v", err)
	}
	if _, err := s.GetActor(ctx, "usr_missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// EnsureActor is idempotent on id.
	if err := s.EnsureActor(ctx, Actor{ID: "usr_a", DisplayName: "A2"}); err != nil {
		t.Fatalf("EnsureActor: %v", err)
	}
	got, _ := s.GetActor(ctx, "usr_a")
	if got.DisplayName != "A" {
		t.Fatalf("EnsureActor must not overwrite: %+v", got)
	}
}

func TestStaticStoreAuditTrail(t *testing.T) {
	ctx := context.Background()
	s := NewStaticStore()

	for _, action := range []string{"checkout", "override", "finalize"} {
		if err := s.InsertAuditEvent(ctx, AuditEvent{DocumentID: "doc-1", Action: action}); err != nil {
			t.Fatalf("insert %s: %v", action, err)
		}
	}
	if err := s.InsertAuditEvent(ctx, AuditEvent{DocumentID: "doc-2", Action: "checkout"}); err != nil {
		t.Fatalf("insert other doc: %v", err)
	}

	items, err := s.ListAuditEvents(ctx, "doc-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].Action != "finalize" || items[1].Action != "override" {
		t.Fatalf("expected newest-first limited trail, got %+v", items)
	}
}
