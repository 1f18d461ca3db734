package app

import (
	"context"
	"log"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"redline/api/internal/events"
	"redline/api/internal/policy"
	"redline/api/internal/store"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ReorderItem names one approver's requested position.
type ReorderItem struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// ApprovalsState returns the ordered ledger plus the summary.
func (s *Service) ApprovalsState(ctx context.Context, documentID string) (map[string]any, error) {
	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	entries := cloneLedger(doc.ledger)
	summary := summarize(doc.ledger)
	doc.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Order < entries[j].Order })
	return map[string]any{
		"documentId": documentID,
		"approvers":  entries,
		"summary":    summary,
	}, nil
}

// Approve records an approval for the target. Permitted for the target
// themselves or for an editor acting on their behalf. Re-approving an
// already approved target is a no-op: no state change, no event.
func (s *Service) Approve(ctx context.Context, documentID, actorID, targetID, comment string) (map[string]any, error) {
	return s.setApprovalStatus(ctx, documentID, actorID, targetID, StatusApproved, comment)
}

// Reject is the mirror of Approve, with the same permission and
// idempotence rules.
func (s *Service) Reject(ctx context.Context, documentID, actorID, targetID, comment string) (map[string]any, error) {
	return s.setApprovalStatus(ctx, documentID, actorID, targetID, StatusRejected, comment)
}

func (s *Service) setApprovalStatus(ctx context.Context, documentID, actorID, targetID, status, comment string) (map[string]any, error) {
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

	if err := allowTargetAction(actor, targetID); err != nil {
		return nil, err
	}
	entry := findEntry(doc.ledger, targetID)
	if entry == nil {
		return nil, domainError(http.StatusNotFound, "TARGET_NOT_FOUND", "Unknown approver", nil)
	}
	summary := summarize(doc.ledger)
	if entry.Status == status {
		return approvalResult(documentID, *entry, summary), nil
	}

	entry.Status = status
	entry.UpdatedBy = actor.ID
	entry.UpdatedAt = time.Now().UTC()
	if comment != "" {
		if len(comment) > maxNotesLength {
			comment = comment[:maxNotesLength]
		}
		entry.Notes = comment
	}
	summary = summarize(doc.ledger)
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeApprovalUpdated,
		Approval: &events.ApprovalChange{
			DocumentID: documentID,
			TargetID:   entry.ApproverID,
			TargetName: entry.Name,
			Status:     entry.Status,
			UpdatedBy:  actor.ID,
			Summary:    summary,
		},
	})

	return approvalResult(documentID, *entry, summary), nil
}

// UpdateNotes sets the free-text note on an entry, same permission rule as
// Approve. Notes are capped at 200 characters.
func (s *Service) UpdateNotes(ctx context.Context, documentID, actorID, targetID, notes string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if len(notes) > maxNotesLength {
		return nil, domainError(http.StatusBadRequest, "INVALID_NOTES", "Notes may not exceed 200 characters", nil)
	}
	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	if err := allowTargetAction(actor, targetID); err != nil {
		return nil, err
	}
	entry := findEntry(doc.ledger, targetID)
	if entry == nil {
		return nil, domainError(http.StatusNotFound, "TARGET_NOT_FOUND", "Unknown approver", nil)
	}
	entry.Notes = notes
	entry.UpdatedBy = actor.ID
	entry.UpdatedAt = time.Now().UTC()
	summary := summarize(doc.ledger)
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeApprovalUpdated,
		Approval: &events.ApprovalChange{
			DocumentID: documentID,
			TargetID:   entry.ApproverID,
			TargetName: entry.Name,
			Status:     entry.Status,
			UpdatedBy:  actor.ID,
			Summary:    summary,
		},
	})

	return approvalResult(documentID, *entry, summary), nil
}

// AddApprover appends a new required sign-off at the end of the routing
// order. Editor-only; the email must look like local@domain.tld.
func (s *Service) AddApprover(ctx context.Context, documentID, actorID, name, email string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "name is required", nil)
	}
	if !emailPattern.MatchString(email) {
		return nil, domainError(http.StatusBadRequest, "INVALID_EMAIL", "email must look like local@domain.tld", nil)
	}

	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	maxOrder := 0
	for _, e := range doc.ledger {
		if e.Order > maxOrder {
			maxOrder = e.Order
		}
	}
	entry := ApprovalEntry{
		ApproverID: "apv_" + uuid.NewString(),
		Name:       name,
		Email:      email,
		Order:      maxOrder + 1,
		Status:     StatusNone,
		UpdatedBy:  actor.ID,
		UpdatedAt:  time.Now().UTC(),
	}
	doc.ledger = append(doc.ledger, entry)
	summary := summarize(doc.ledger)
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeApproverAdded,
		Approval: &events.ApprovalChange{
			DocumentID: documentID,
			TargetID:   entry.ApproverID,
			TargetName: entry.Name,
			Status:     entry.Status,
			UpdatedBy:  actor.ID,
			Summary:    summary,
		},
	})

	return approvalResult(documentID, entry, summary), nil
}

// DeleteApprover removes an entry by id. Remaining order values are left
// untouched; they re-densify only on an explicit reorder.
func (s *Service) DeleteApprover(ctx context.Context, documentID, actorID, targetID string) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(actor); err != nil {
		return nil, err
	}

	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	idx := -1
	for i := range doc.ledger {
		if doc.ledger[i].ApproverID == targetID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, domainError(http.StatusNotFound, "TARGET_NOT_FOUND", "Unknown approver", nil)
	}
	removed := doc.ledger[idx]
	doc.ledger = append(doc.ledger[:idx], doc.ledger[idx+1:]...)
	summary := summarize(doc.ledger)
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeApproverRemoved,
		Approval: &events.ApprovalChange{
			DocumentID: documentID,
			TargetID:   removed.ApproverID,
			TargetName: removed.Name,
			UpdatedBy:  actor.ID,
			Summary:    summary,
		},
	})

	return map[string]any{"ok": true, "summary": summary}, nil
}

// Reorder applies the supplied positions then re-normalizes the whole
// ledger to a dense ascending 1..N sequence.
func (s *Service) Reorder(ctx context.Context, documentID, actorID string, items []ReorderItem) (map[string]any, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(actor); err != nil {
		return nil, err
	}

	documentID = s.DefaultDocumentID(documentID)
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	for _, item := range items {
		entry := findEntry(doc.ledger, item.ID)
		if entry == nil {
			return nil, domainError(http.StatusNotFound, "TARGET_NOT_FOUND", "Unknown approver in reorder", map[string]any{"id": item.ID})
		}
		entry.Order = item.Order
	}
	sort.SliceStable(doc.ledger, func(i, j int) bool { return doc.ledger[i].Order < doc.ledger[j].Order })
	for i := range doc.ledger {
		doc.ledger[i].Order = i + 1
	}
	summary := summarize(doc.ledger)
	entries := cloneLedger(doc.ledger)
	s.commit(doc)

	s.emit(ctx, events.Event{
		Type: events.TypeApproversReordered,
		Approval: &events.ApprovalChange{
			DocumentID: documentID,
			UpdatedBy:  actor.ID,
			Summary:    summary,
		},
	})

	return map[string]any{"ok": true, "approvers": entries, "summary": summary}, nil
}

// Remind is notification-only: no ledger state changes. It records an
// audit entry and, when SMTP is configured, sends a best-effort mail.
func (s *Service) Remind(ctx context.Context, documentID, actorID, targetID string) (map[string]any, error) {
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
	target := findEntry(doc.ledger, targetID)
	var targetCopy ApprovalEntry
	if target != nil {
		targetCopy = *target
	}
	filename := doc.handle.Filename
	doc.mu.Unlock()

	if target == nil {
		return nil, domainError(http.StatusNotFound, "TARGET_NOT_FOUND", "Unknown approver", nil)
	}

	s.audit(ctx, documentID, "reminder", actor, "target="+targetCopy.ApproverID)

	if s.mail != nil && s.mail.IsConfigured() {
		if err := s.mail.SendReminder(targetCopy.Email, targetCopy.Name, filename, actor.DisplayName); err != nil {
			log.Printf("reminder mail to %s failed: %v", targetCopy.Email, err)
		}
	}

	s.emit(ctx, events.Event{
		Type: events.TypeReminder,
		Reminder: &events.Reminder{
			DocumentID:  documentID,
			TargetID:    targetCopy.ApproverID,
			TargetName:  targetCopy.Name,
			RequestedBy: actor.ID,
		},
	})

	return map[string]any{"ok": true}, nil
}

// allowTargetAction is the ledger permission rule: self-action, or an
// editor acting on behalf of the target.
func allowTargetAction(actor store.Actor, targetID string) error {
	if actor.ID == targetID {
		return nil
	}
	if policy.Evaluate(policy.Normalize(actor.Role), policy.LockFree, false).ActOnBehalf {
		return nil
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", "Only the approver or an editor may do this", nil)
}

func requireManager(actor store.Actor) error {
	if policy.Evaluate(policy.Normalize(actor.Role), policy.LockFree, false).ManageApprovers {
		return nil
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", "Only editors may manage approvers", nil)
}

func findEntry(ledger []ApprovalEntry, id string) *ApprovalEntry {
	for i := range ledger {
		if ledger[i].ApproverID == id {
			return &ledger[i]
		}
	}
	return nil
}

func summarize(ledger []ApprovalEntry) events.Summary {
	summary := events.Summary{TotalApprovers: len(ledger)}
	for _, e := range ledger {
		if e.Status == StatusApproved {
			summary.ApprovedCount++
		}
	}
	return summary
}

func cloneLedger(ledger []ApprovalEntry) []ApprovalEntry {
	out := make([]ApprovalEntry, len(ledger))
	copy(out, ledger)
	return out
}

func approvalResult(documentID string, entry ApprovalEntry, summary events.Summary) map[string]any {
	out := map[string]any{
		"documentId": documentID,
		"approver":   entry,
		"summary":    summary,
	}
	return out
}
