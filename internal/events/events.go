// Package events carries state-change notifications to connected observers.
// Delivery is at-most-once and best-effort: no buffering beyond a small
// per-subscriber channel, no replay for late joiners.
package events

import "time"

type Type string

const (
	TypeConnected           Type = "connected"
	TypeLocked              Type = "locked"
	TypeSaved               Type = "saved"
	TypeCheckedIn           Type = "checkedIn"
	TypeCancelled           Type = "cancelled"
	TypeOverridden          Type = "overridden"
	TypeFinalized           Type = "finalized"
	TypeUnfinalized         Type = "unfinalized"
	TypeApprovalUpdated     Type = "approvalUpdated"
	TypeApproverAdded       Type = "approverAdded"
	TypeApproverRemoved     Type = "approverRemoved"
	TypeApproversReordered  Type = "approversReordered"
	TypeReminder            Type = "reminder"
)

// Event is a closed tagged union: Type names the variant and exactly one
// of the payload pointers is set. PlatformScope restricts delivery to
// subscribers of that platform; empty means all subscribers.
type Event struct {
	Type          Type      `json:"type"`
	PlatformScope string    `json:"platformScope,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	Lock     *LockChange     `json:"lock,omitempty"`
	Approval *ApprovalChange `json:"approval,omitempty"`
	Reminder *Reminder       `json:"reminder,omitempty"`
	Ack      *Ack            `json:"ack,omitempty"`
}

// LockChange describes a lock-manager transition.
type LockChange struct {
	DocumentID       string `json:"documentId"`
	ActorID          string `json:"actorId"`
	ActorName        string `json:"actorName"`
	ActorRole        string `json:"actorRole"`
	Platform         string `json:"platform,omitempty"`
	PreviousHolderID string `json:"previousHolderId,omitempty"`
	Finalized        bool   `json:"finalized,omitempty"`
	Filename         string `json:"filename,omitempty"`
}

// ApprovalChange describes a ledger mutation plus the recomputed summary.
type ApprovalChange struct {
	DocumentID string  `json:"documentId"`
	TargetID   string  `json:"targetId"`
	TargetName string  `json:"targetName,omitempty"`
	Status     string  `json:"status,omitempty"`
	UpdatedBy  string  `json:"updatedBy"`
	Summary    Summary `json:"summary"`
}

type Summary struct {
	ApprovedCount  int `json:"approvedCount"`
	TotalApprovers int `json:"totalApprovers"`
}

// Reminder is notification-only; no ledger state changes.
type Reminder struct {
	DocumentID  string `json:"documentId"`
	TargetID    string `json:"targetId"`
	TargetName  string `json:"targetName,omitempty"`
	RequestedBy string `json:"requestedBy"`
}

// Ack is sent once to a subscriber immediately after it connects.
type Ack struct {
	SubscriberID string `json:"subscriberId"`
	Platform     string `json:"platform,omitempty"`
}
