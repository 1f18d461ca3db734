package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned for lookups of unknown actors or documents.
var ErrNotFound = errors.New("not found")

// Actor is a pre-provisioned user. Records are immutable after
// provisioning; there is no authentication, identity is asserted by the
// client and checked against this directory.
type Actor struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	Platform    string    `json:"platform"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuditEvent records override, finalize, and reminder actions so operators
// can reconstruct why and when a lock was forcibly released.
type AuditEvent struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actorId"`
	ActorName  string    `json:"actorName"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
