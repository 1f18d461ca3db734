package app

import (
	"encoding/json"
	"fmt"
	"log"
)

// Snapshot files live next to the document blobs and are rewritten
// wholesale on every mutation via the blob store's atomic replace. There
// is no write-ahead log and no migration format; a corrupt or missing
// file just means starting fresh.
const (
	documentStateFile  = "document-state.json"
	approvalsStateFile = "approvals-state.json"
	// Legacy mirror: a flat approverId -> status map per document, kept
	// for older clients that only ever read the simple shape.
	approvalsSimpleFile = "approvals-simple.json"
)

// docSnapshot is the persisted copy of one document's state.
type docSnapshot struct {
	Handle DocumentHandle  `json:"document"`
	Lock   LockState       `json:"lock"`
	Ledger []ApprovalEntry `json:"approvers"`
}

// commit captures the document's state and rewrites the snapshot files.
// Called with doc.mu held; snapshots of other documents are read from the
// cache, never from their live state, so no second document mutex is
// taken. Snapshot IO failures are logged only: durability is best-effort
// and must never fail the state transition that already happened.
func (s *Service) commit(doc *documentState) {
	snap := docSnapshot{
		Handle: doc.handle,
		Lock:   doc.lock,
		Ledger: cloneLedger(doc.ledger),
	}

	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.snaps[doc.handle.ID] = snap

	if err := s.writeSnapshotsLocked(); err != nil {
		log.Printf("snapshot write failed for %s: %v", doc.handle.ID, err)
	}
}

// lockSnapshot is the document-state.json shape: handle plus lock, no
// ledger.
type lockSnapshot struct {
	Handle DocumentHandle `json:"document"`
	Lock   LockState      `json:"lock"`
}

func (s *Service) writeSnapshotsLocked() error {
	documents := make(map[string]lockSnapshot, len(s.snaps))
	approvals := make(map[string][]ApprovalEntry, len(s.snaps))
	simple := make(map[string]map[string]string, len(s.snaps))
	for id, snap := range s.snaps {
		documents[id] = lockSnapshot{Handle: snap.Handle, Lock: snap.Lock}
		approvals[id] = snap.Ledger
		flat := make(map[string]string, len(snap.Ledger))
		for _, e := range snap.Ledger {
			flat[e.ApproverID] = e.Status
		}
		simple[id] = flat
	}

	if err := s.writeJSON(documentStateFile, documents); err != nil {
		return err
	}
	if err := s.writeJSON(approvalsStateFile, approvals); err != nil {
		return err
	}
	return s.writeJSON(approvalsSimpleFile, simple)
}

func (s *Service) writeJSON(name string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := s.blobs.Write(name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// loadSnapshots restores persisted document state at startup. Missing
// files are normal on first boot; an unreadable file is discarded.
func (s *Service) loadSnapshots() error {
	if !s.blobs.Exists(documentStateFile) {
		return nil
	}
	data, err := s.blobs.Read(documentStateFile)
	if err != nil {
		return fmt.Errorf("read %s: %w", documentStateFile, err)
	}
	var documents map[string]lockSnapshot
	if err := json.Unmarshal(data, &documents); err != nil {
		log.Printf("discarding unreadable snapshot %s: %v", documentStateFile, err)
		return nil
	}

	approvals := map[string][]ApprovalEntry{}
	if s.blobs.Exists(approvalsStateFile) {
		if data, err := s.blobs.Read(approvalsStateFile); err == nil {
			if err := json.Unmarshal(data, &approvals); err != nil {
				log.Printf("discarding unreadable snapshot %s: %v", approvalsStateFile, err)
				approvals = map[string][]ApprovalEntry{}
			}
		}
	}

	s.mu.Lock()
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	defer s.mu.Unlock()
	for id, snap := range documents {
		doc := &documentState{
			handle: snap.Handle,
			lock:   snap.Lock,
			ledger: approvals[id],
		}
		s.docs[id] = doc
		s.snaps[id] = docSnapshot{Handle: doc.handle, Lock: doc.lock, Ledger: cloneLedger(doc.ledger)}
	}
	return nil
}
