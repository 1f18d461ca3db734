package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"time"

	"redline/api/internal/blob"
	"redline/api/internal/events"
	"redline/api/internal/policy"
	"redline/api/internal/store"
)

// Checkout claims the exclusive editing lock for an actor. At most one
// holder per document; a losing racer gets ALREADY_LOCKED, never queued.
func (s *Service) Checkout(ctx context.Context, documentID, actorID, platform string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	plat, ok := policy.NormalizePlatform(platform)
	if !ok {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "platform must be web or word", nil)
	}

	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	if doc.handle.Finalized {
		return nil, domainError(http.StatusConflict, "FINALIZED", "Document is finalized", nil)
	}
	if doc.lock.Locked {
		return nil, s.lockConflict(ctx, doc, actorID)
	}
	grant := policy.Evaluate(policy.Normalize(actor.Role), policy.LockFree, false)
	if !grant.Checkout {
		return nil, domainError(http.StatusForbidden, "ROLE_FORBIDDEN", fmt.Sprintf("Role %s may not check out documents", actor.Role), nil)
	}

	doc.lock = LockState{
		Locked:         true,
		HolderID:       actor.ID,
		HolderPlatform: string(plat),
		AcquiredAt:     time.Now().UTC(),
	}
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeLocked,
		Lock: &events.LockChange{
			DocumentID: documentID,
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ActorRole:  actor.Role,
			Platform:   string(plat),
			Filename:   doc.handle.Filename,
		},
	})
	s.audit(ctx, documentID, "checkout", actor, "platform="+string(plat))

	return map[string]any{
		"locked": true,
		"holder": s.holderSummary(ctx, doc.lock),
		"status": policy.StatusText(policy.LockSelf, actor.DisplayName, plat, false),
	}, nil
}

// SaveProgress replaces the working blob while keeping the lock held. The
// swap is atomic so a concurrent reader never sees a half-written file.
func (s *Service) SaveProgress(ctx context.Context, documentID, actorID, docxBase64, filename string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	data, err := s.decodeDOCX(docxBase64)
	if err != nil {
		return nil, err
	}

	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	if err := s.requireHolder(ctx, doc, actor, policy.ActionSave); err != nil {
		return nil, err
	}
	if err := s.blobs.Write(doc.handle.BlobRef, data); err != nil {
		log.Printf("blob write failed for %s: %v", documentID, err)
		return nil, domainError(http.StatusInternalServerError, "SERVER_ERROR", "Could not persist document", nil)
	}
	if filename != "" {
		doc.handle.Filename = filename
	}
	doc.handle.LastUpdated = time.Now().UTC()
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeSaved,
		Lock: &events.LockChange{
			DocumentID: documentID,
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ActorRole:  actor.Role,
			Platform:   doc.lock.HolderPlatform,
			Filename:   doc.handle.Filename,
		},
	})

	return map[string]any{"ok": true, "lastUpdated": doc.handle.LastUpdated}, nil
}

// CheckIn releases the lock, optionally swapping in a final blob first.
// The committed revision is archived after the transition; archival
// failures are logged, never surfaced.
func (s *Service) CheckIn(ctx context.Context, documentID, actorID, docxBase64, filename string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	var data []byte
	if docxBase64 != "" {
		if data, err = s.decodeDOCX(docxBase64); err != nil {
			return nil, err
		}
	}

	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	if err := s.requireHolder(ctx, doc, actor, policy.ActionCheckIn); err != nil {
		return nil, err
	}
	if data != nil {
		if err := s.blobs.Write(doc.handle.BlobRef, data); err != nil {
			log.Printf("blob write failed for %s: %v", documentID, err)
			return nil, domainError(http.StatusInternalServerError, "SERVER_ERROR", "Could not persist document", nil)
		}
		if filename != "" {
			doc.handle.Filename = filename
		}
		doc.handle.LastUpdated = time.Now().UTC()
	}
	doc.lock = LockState{}
	s.commit(doc)

	s.archiveRevision(ctx, documentID, doc.handle.Filename, actor, "check-in by "+actor.DisplayName)

	s.emit(ctx, events.Event{
		Type: events.TypeCheckedIn,
		Lock: &events.LockChange{
			DocumentID: documentID,
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ActorRole:  actor.Role,
			Filename:   doc.handle.Filename,
		},
	})
	s.audit(ctx, documentID, "checkin", actor, "")

	return map[string]any{"ok": true, "status": policy.StatusText(policy.LockFree, "", "", false)}, nil
}

// CancelCheckout releases the lock without touching the blob.
func (s *Service) CancelCheckout(ctx context.Context, documentID, actorID string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	if err := s.requireHolder(ctx, doc, actor, policy.ActionCancel); err != nil {
		return nil, err
	}
	doc.lock = LockState{}
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeCancelled,
		Lock: &events.LockChange{
			DocumentID: documentID,
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ActorRole:  actor.Role,
		},
	})
	s.audit(ctx, documentID, "cancel", actor, "")

	return map[string]any{"ok": true}, nil
}

// Override force-releases the lock regardless of the current holder. It is
// the only transition that bypasses holder identity; it exists to recover
// abandoned or cross-platform-orphaned checkouts, so only editors get it.
func (s *Service) Override(ctx context.Context, documentID, actorID string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	grant := policy.Evaluate(policy.Normalize(actor.Role), policy.LockOther, doc.handle.Finalized)
	if !grant.Override {
		return nil, domainError(http.StatusForbidden, "ROLE_FORBIDDEN", "Only editors may override a checkout", nil)
	}
	if !doc.lock.Locked {
		return nil, domainError(http.StatusConflict, "NOT_LOCKED", "Document is not checked out", nil)
	}
	previousHolder := doc.lock.HolderID
	doc.lock = LockState{}
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeOverridden,
		Lock: &events.LockChange{
			DocumentID:       documentID,
			ActorID:          actor.ID,
			ActorName:        actor.DisplayName,
			ActorRole:        actor.Role,
			PreviousHolderID: previousHolder,
		},
	})
	s.audit(ctx, documentID, "override", actor, "previousHolder="+previousHolder)

	return map[string]any{"ok": true, "previousHolderId": previousHolder}, nil
}

// Finalize marks the document read-only and always releases the lock. The
// caller must be the editor currently holding the checkout, so a finalize
// racing a concurrent check-in observes a consistent holder snapshot.
func (s *Service) Finalize(ctx context.Context, documentID, actorID string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	role := policy.Normalize(actor.Role)
	if role != policy.RoleEditor {
		return nil, domainError(http.StatusForbidden, "ROLE_FORBIDDEN", "Only editors may finalize", nil)
	}
	if doc.handle.Finalized {
		return nil, domainError(http.StatusConflict, "FINALIZED", "Document is already finalized", nil)
	}
	rel := relation(doc.lock, actor.ID)
	if !policy.Evaluate(role, rel, false).Finalize {
		return nil, domainError(http.StatusConflict, "PRECONDITION_FAILED", "Finalize requires holding the checkout", nil)
	}

	doc.handle.Finalized = true
	doc.lock = LockState{}
	s.commit(doc)

	s.archiveRevision(ctx, documentID, doc.handle.Filename, actor, "finalized by "+actor.DisplayName)

	s.emit(ctx, events.Event{
		Type: events.TypeFinalized,
		Lock: &events.LockChange{
			DocumentID: documentID,
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ActorRole:  actor.Role,
			Finalized:  true,
		},
	})
	s.audit(ctx, documentID, "finalize", actor, "")

	return map[string]any{"ok": true, "isFinalized": true}, nil
}

// Unfinalize reopens a finalized document. Editor-only; no lock required.
func (s *Service) Unfinalize(ctx context.Context, documentID, actorID string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	if !policy.Evaluate(policy.Normalize(actor.Role), policy.LockFree, true).Unfinalize {
		return nil, domainError(http.StatusForbidden, "ROLE_FORBIDDEN", "Only editors may unfinalize", nil)
	}
	if !doc.handle.Finalized {
		return nil, domainError(http.StatusConflict, "PRECONDITION_FAILED", "Document is not finalized", nil)
	}
	doc.handle.Finalized = false
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeUnfinalized,
		Lock: &events.LockChange{
			DocumentID: documentID,
			ActorID:    actor.ID,
			ActorName:  actor.DisplayName,
			ActorRole:  actor.Role,
		},
	})
	s.audit(ctx, documentID, "unfinalize", actor, "")

	return map[string]any{"ok": true, "isFinalized": false}, nil
}

// VendorInvite checks the document out to a named vendor actor on the
// inviting editor's behalf. Only permitted while the document is free.
func (s *Service) VendorInvite(ctx context.Context, documentID, actorID, vendorID string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	vendor, err := s.store.GetActor(ctx, vendorID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, domainError(http.StatusNotFound, "TARGET_NOT_FOUND", "Unknown vendor", nil)
		}
		return nil, fmt.Errorf("get vendor %s: %w", vendorID, err)
	}
	if policy.Normalize(vendor.Role) != policy.RoleVendor {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "Target actor is not a vendor", nil)
	}

	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	if doc.handle.Finalized {
		return nil, domainError(http.StatusConflict, "FINALIZED", "Document is finalized", nil)
	}
	if doc.lock.Locked {
		return nil, s.lockConflict(ctx, doc, actor.ID)
	}
	if !policy.Evaluate(policy.Normalize(actor.Role), policy.LockFree, false).InviteVendor {
		return nil, domainError(http.StatusForbidden, "ROLE_FORBIDDEN", "Only editors may send the document to a vendor", nil)
	}

	doc.lock = LockState{
		Locked:         true,
		HolderID:       vendor.ID,
		HolderPlatform: vendor.Platform,
		AcquiredAt:     time.Now().UTC(),
	}
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeLocked,
		Lock: &events.LockChange{
			DocumentID: documentID,
			ActorID:    vendor.ID,
			ActorName:  vendor.DisplayName,
			ActorRole:  vendor.Role,
			Platform:   vendor.Platform,
		},
	})
	s.audit(ctx, documentID, "vendorInvite", actor, "vendor="+vendor.ID)

	return map[string]any{"ok": true, "holder": s.holderSummary(ctx, doc.lock)}, nil
}

// Status returns the handle and lock snapshot, with the banner text
// rendered for the requesting actor when one is named.
func (s *Service) Status(ctx context.Context, documentID, actorID string) (map[string]any, error) {
	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	handle := doc.handle
	lock := doc.lock
	doc.mu.Unlock()

	rel := relation(lock, actorID)
	holderName, holderPlatform := s.holderDisplay(ctx, lock)
	return map[string]any{
		"document": handle,
		"lock":     lock,
		"holder":   s.holderSummary(ctx, lock),
		"status":   policy.StatusText(rel, holderName, holderPlatform, handle.Finalized),
	}, nil
}

// StateMatrix renders the permission table for one actor so clients can
// enable or disable controls without re-deriving policy.
func (s *Service) StateMatrix(ctx context.Context, documentID, actorID, platform string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if _, ok := policy.NormalizePlatform(platform); !ok {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "platform must be web or word", nil)
	}

	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	handle := doc.handle
	lock := doc.lock
	doc.mu.Unlock()

	rel := relation(lock, actor.ID)
	grant := policy.Evaluate(policy.Normalize(actor.Role), rel, handle.Finalized)
	holderName, holderPlatform := s.holderDisplay(ctx, lock)

	return map[string]any{
		"actorId":     actor.ID,
		"role":        actor.Role,
		"relation":    relationLabel(rel),
		"isLocked":    lock.Locked,
		"isFinalized": handle.Finalized,
		"permitted":   grant,
		"status":      policy.StatusText(rel, holderName, holderPlatform, handle.Finalized),
	}, nil
}

// requireHolder enforces the shared precondition of save/checkin/cancel:
// the document is locked and the caller is the holder by actor id.
// Called with doc.mu held.
func (s *Service) requireHolder(ctx context.Context, doc *documentState, actor store.Actor, action policy.Action) error {
	if doc.handle.Finalized {
		return domainError(http.StatusConflict, "FINALIZED", "Document is finalized", nil)
	}
	if !doc.lock.Locked {
		return domainError(http.StatusConflict, "NOT_LOCKED", "Document is not checked out", nil)
	}
	rel := relation(doc.lock, actor.ID)
	if rel == policy.LockOther {
		holderName, holderPlatform := s.holderDisplay(ctx, doc.lock)
		return domainError(http.StatusForbidden, "WRONG_HOLDER", "Document is checked out by another user", map[string]any{
			"holderId": doc.lock.HolderID,
			"status":   policy.StatusText(policy.LockOther, holderName, holderPlatform, false),
		})
	}
	if !policy.Evaluate(policy.Normalize(actor.Role), rel, false).Allows(action) {
		return domainError(http.StatusForbidden, "ROLE_FORBIDDEN", fmt.Sprintf("Role %s may not perform this action", actor.Role), nil)
	}
	return nil
}

// lockConflict builds the ALREADY_LOCKED error with enough holder detail
// for the client to render an accurate banner. Called with doc.mu held.
func (s *Service) lockConflict(ctx context.Context, doc *documentState, actorID string) error {
	rel := relation(doc.lock, actorID)
	holderName, holderPlatform := s.holderDisplay(ctx, doc.lock)
	return domainError(http.StatusConflict, "ALREADY_LOCKED", "Document is already checked out", map[string]any{
		"holderId": doc.lock.HolderID,
		"status":   policy.StatusText(rel, holderName, holderPlatform, false),
	})
}

func (s *Service) holderDisplay(ctx context.Context, lock LockState) (string, policy.Platform) {
	if !lock.Locked {
		return "", ""
	}
	name := lock.HolderID
	if actor, err := s.store.GetActor(ctx, lock.HolderID); err == nil {
		name = actor.DisplayName
	}
	return name, policy.Platform(lock.HolderPlatform)
}

// archiveRevision commits the current blob to the revision archive and,
// when configured, uploads it to object storage. Runs after the state
// transition commits; failures are logged only.
func (s *Service) archiveRevision(ctx context.Context, documentID, filename string, actor store.Actor, message string) {
	if s.archive == nil {
		return
	}
	data, err := s.blobs.Read(blobName(documentID))
	if err != nil {
		log.Printf("archive skipped for %s: no blob: %v", documentID, err)
		return
	}
	rev, err := s.archive.CommitRevision(documentID, data, filename, actor.DisplayName, message)
	if err != nil {
		log.Printf("archive commit failed for %s: %v", documentID, err)
		return
	}
	if s.objects != nil {
		key := fmt.Sprintf("%s/%s.docx", documentID, rev.Hash)
		if err := s.objects.Upload(ctx, key, data); err != nil {
			log.Printf("object upload failed for %s: %v", key, err)
		}
	}
}

func (s *Service) decodeDOCX(docxBase64 string) ([]byte, error) {
	if docxBase64 == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "docx payload is required", nil)
	}
	data, err := base64.StdEncoding.DecodeString(docxBase64)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "docx payload must be base64", nil)
	}
	if len(data) > s.maxBlobBytes {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "docx payload exceeds the size limit", nil)
	}
	if err := blob.ValidateDOCX(data); err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_DOCX", "Payload is not a Word document", nil)
	}
	return data, nil
}

func relationLabel(rel policy.Relation) string {
	switch rel {
	case policy.LockSelf:
		return "self"
	case policy.LockOther:
		return "other"
	default:
		return "free"
	}
}
