package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"redline/api/internal/blob"
	"redline/api/internal/events"
	"redline/api/internal/store"
)

const testDoc = "contract-1"

func newTestService(t *testing.T) *Service {
	t.Helper()
	blobs, err := blob.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	directory := store.NewStaticStore(SeedActors()...)
	svc := New(directory, blobs, events.NewBroadcaster(), testDoc, Options{})
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return svc
}

func docxFixture() string {
	var buf bytes.Buffer
	buf.WriteString("PK\x03\x04")
	buf.WriteString("[Content_Types].xml")
	buf.WriteString("word/document.xml")
	buf.WriteString("body text")
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	return domainErr.Code
}

func TestViewerCannotCheckout(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Checkout(context.Background(), testDoc, "usr_gwen", "web")
	if code := errCode(t, err); code != "ROLE_FORBIDDEN" {
		t.Fatalf("expected ROLE_FORBIDDEN, got %s", code)
	}
}

func TestCheckoutConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	payload, err := svc.Checkout(ctx, testDoc, "usr_warren", "web")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if payload["locked"] != true {
		t.Fatalf("expected locked payload, got %v", payload)
	}

	_, err = svc.Checkout(ctx, testDoc, "usr_sam", "word")
	if code := errCode(t, err); code != "ALREADY_LOCKED" {
		t.Fatalf("expected ALREADY_LOCKED, got %s", code)
	}
}

func TestConcurrentCheckoutSingleWinner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Checkout(ctx, testDoc, "usr_warren", "web")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		if code := errCode(t, err); code != "ALREADY_LOCKED" {
			t.Fatalf("loser got %s, expected ALREADY_LOCKED", code)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning checkout, got %d", wins)
	}
}

func TestWrongHolderProtection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, testDoc, "usr_sam", "word"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// Another actor, even an editor, cannot save/checkin/cancel on behalf
	// of the holder. Only Override releases them.
	if _, err := svc.SaveProgress(ctx, testDoc, "usr_warren", docxFixture(), ""); errCode(t, err) != "WRONG_HOLDER" {
		t.Fatal("expected WRONG_HOLDER on save")
	}
	if _, err := svc.CheckIn(ctx, testDoc, "usr_warren", "", ""); errCode(t, err) != "WRONG_HOLDER" {
		t.Fatal("expected WRONG_HOLDER on checkin")
	}
	if _, err := svc.CancelCheckout(ctx, testDoc, "usr_warren"); errCode(t, err) != "WRONG_HOLDER" {
		t.Fatal("expected WRONG_HOLDER on cancel")
	}
}

func TestSaveAndCheckInByHolder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, testDoc, "usr_sam", "word"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := svc.SaveProgress(ctx, testDoc, "usr_sam", docxFixture(), "draft.docx"); err != nil {
		t.Fatalf("save: %v", err)
	}

	status, err := svc.Status(ctx, testDoc, "usr_sam")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status["status"] != "Checked out by you" {
		t.Fatalf("unexpected banner: %v", status["status"])
	}

	if _, err := svc.CheckIn(ctx, testDoc, "usr_sam", docxFixture(), "final.docx"); err != nil {
		t.Fatalf("checkin: %v", err)
	}
	status, _ = svc.Status(ctx, testDoc, "usr_sam")
	lock := status["lock"].(LockState)
	if lock.Locked || lock.HolderID != "" {
		t.Fatalf("lock should be cleared after checkin: %+v", lock)
	}
	handle := status["document"].(DocumentHandle)
	if handle.Filename != "final.docx" {
		t.Fatalf("filename not updated: %+v", handle)
	}
}

func TestSaveRejectsMalformedPayloads(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, testDoc, "usr_warren", "web"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := svc.SaveProgress(ctx, testDoc, "usr_warren", "!!not-base64!!", ""); errCode(t, err) != "INVALID_INPUT" {
		t.Fatal("expected INVALID_INPUT for bad base64")
	}
	plain := base64.StdEncoding.EncodeToString([]byte("just text, no zip"))
	if _, err := svc.SaveProgress(ctx, testDoc, "usr_warren", plain, ""); errCode(t, err) != "INVALID_DOCX" {
		t.Fatal("expected INVALID_DOCX for non-zip payload")
	}
}

func TestSaveRequiresLock(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SaveProgress(context.Background(), testDoc, "usr_warren", docxFixture(), "")
	if code := errCode(t, err); code != "NOT_LOCKED" {
		t.Fatalf("expected NOT_LOCKED, got %s", code)
	}
}

func TestOverrideIsEditorOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, testDoc, "usr_warren", "web"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := svc.Override(ctx, testDoc, "usr_sam"); errCode(t, err) != "ROLE_FORBIDDEN" {
		t.Fatal("suggester override should be ROLE_FORBIDDEN")
	}
	if _, err := svc.Override(ctx, testDoc, "usr_gwen"); errCode(t, err) != "ROLE_FORBIDDEN" {
		t.Fatal("viewer override should be ROLE_FORBIDDEN")
	}
}

func TestOverrideReleasesAnyHolder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, testDoc, "usr_sam", "word"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	_, ch, cancel := svc.Subscribe("")
	defer cancel()
	<-ch // connected ack

	payload, err := svc.Override(ctx, testDoc, "usr_warren")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if payload["previousHolderId"] != "usr_sam" {
		t.Fatalf("expected previous holder usr_sam, got %v", payload)
	}

	event := <-ch
	if event.Type != events.TypeOverridden {
		t.Fatalf("expected overridden event, got %s", event.Type)
	}
	if event.Lock == nil || event.Lock.PreviousHolderID != "usr_sam" {
		t.Fatalf("override event missing previous holder: %+v", event.Lock)
	}

	status, _ := svc.Status(ctx, testDoc, "")
	if status["lock"].(LockState).Locked {
		t.Fatal("lock should be released after override")
	}
}

func TestOverrideRequiresLock(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Override(context.Background(), testDoc, "usr_warren")
	if code := errCode(t, err); code != "NOT_LOCKED" {
		t.Fatalf("expected NOT_LOCKED, got %s", code)
	}
}

func TestFinalizeRequiresHoldingEditor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Finalize(ctx, testDoc, "usr_sam"); errCode(t, err) != "ROLE_FORBIDDEN" {
		t.Fatal("suggester finalize should be ROLE_FORBIDDEN")
	}
	if _, err := svc.Finalize(ctx, testDoc, "usr_warren"); errCode(t, err) != "PRECONDITION_FAILED" {
		t.Fatal("finalize without the lock should be PRECONDITION_FAILED")
	}

	if _, err := svc.Checkout(ctx, testDoc, "usr_sam", "word"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := svc.Finalize(ctx, testDoc, "usr_warren"); errCode(t, err) != "PRECONDITION_FAILED" {
		t.Fatal("finalize against another holder should be PRECONDITION_FAILED")
	}
}

func TestFinalizeClearsLock(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, testDoc, "usr_warren", "web"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := svc.Finalize(ctx, testDoc, "usr_warren"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	status, _ := svc.Status(ctx, testDoc, "usr_warren")
	if status["lock"].(LockState).Locked {
		t.Fatal("finalize must release the lock")
	}
	if !status["document"].(DocumentHandle).Finalized {
		t.Fatal("document should be finalized")
	}
	if status["status"] != "Document finalized - read only" {
		t.Fatalf("unexpected banner: %v", status["status"])
	}

	// Finalized documents admit no new checkout until unfinalized.
	if _, err := svc.Checkout(ctx, testDoc, "usr_warren", "web"); errCode(t, err) != "FINALIZED" {
		t.Fatal("expected FINALIZED on checkout of a finalized document")
	}
	if _, err := svc.Unfinalize(ctx, testDoc, "usr_sam"); errCode(t, err) != "ROLE_FORBIDDEN" {
		t.Fatal("unfinalize is editor-only")
	}
	if _, err := svc.Unfinalize(ctx, testDoc, "usr_warren"); err != nil {
		t.Fatalf("unfinalize: %v", err)
	}
	if _, err := svc.Checkout(ctx, testDoc, "usr_warren", "web"); err != nil {
		t.Fatalf("checkout after unfinalize: %v", err)
	}
}

func TestVendorInvite(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.VendorInvite(ctx, testDoc, "usr_sam", "usr_vera"); errCode(t, err) != "ROLE_FORBIDDEN" {
		t.Fatal("vendor invite is editor-only")
	}
	if _, err := svc.VendorInvite(ctx, testDoc, "usr_warren", "usr_gwen"); errCode(t, err) != "INVALID_INPUT" {
		t.Fatal("inviting a non-vendor should be INVALID_INPUT")
	}
	if _, err := svc.VendorInvite(ctx, testDoc, "usr_warren", "usr_nobody"); errCode(t, err) != "TARGET_NOT_FOUND" {
		t.Fatal("unknown vendor should be TARGET_NOT_FOUND")
	}

	if _, err := svc.VendorInvite(ctx, testDoc, "usr_warren", "usr_vera"); err != nil {
		t.Fatalf("vendor invite: %v", err)
	}
	status, _ := svc.Status(ctx, testDoc, "usr_vera")
	lock := status["lock"].(LockState)
	if !lock.Locked || lock.HolderID != "usr_vera" {
		t.Fatalf("vendor should hold the lock: %+v", lock)
	}

	// The vendor acts as a normal holder from here.
	if _, err := svc.CheckIn(ctx, testDoc, "usr_vera", "", ""); err != nil {
		t.Fatalf("vendor checkin: %v", err)
	}
}

func TestCrossPlatformIdentity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Checked out from the web, saved from the add-in: one person, one
	// holder. Identity is the actor id, never the platform.
	if _, err := svc.Checkout(ctx, testDoc, "usr_warren", "web"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := svc.SaveProgress(ctx, testDoc, "usr_warren", docxFixture(), ""); err != nil {
		t.Fatalf("save from other platform: %v", err)
	}
}

func TestUnknownActor(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Checkout(context.Background(), testDoc, "usr_nobody", "web")
	if code := errCode(t, err); code != "ACTOR_NOT_FOUND" {
		t.Fatalf("expected ACTOR_NOT_FOUND, got %s", code)
	}
}
