// Package app holds the document coordination core: the checkout lock
// state machine, the approval ledger, and the glue between the actor
// directory, blob store, revision archive, and event broadcaster.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"redline/api/internal/archive"
	"redline/api/internal/events"
	"redline/api/internal/policy"
	"redline/api/internal/store"
	"redline/api/internal/util"
)

// DirectoryStore is the slice of the persistence layer the service needs:
// actor lookup plus the audit trail. Both the Postgres-backed store and
// the in-memory static store satisfy it.
type DirectoryStore interface {
	ListActors(ctx context.Context) ([]store.Actor, error)
	GetActor(ctx context.Context, id string) (store.Actor, error)
	EnsureActor(ctx context.Context, actor store.Actor) error
	InsertAuditEvent(ctx context.Context, event store.AuditEvent) error
	ListAuditEvents(ctx context.Context, documentID string, limit int) ([]store.AuditEvent, error)
	Ping(ctx context.Context) error
}

type blobStore interface {
	Write(name string, data []byte) error
	Read(name string) ([]byte, error)
	Exists(name string) bool
}

// revisionArchive records checked-in document revisions. Nil disables it.
type revisionArchive interface {
	CommitRevision(documentID string, data []byte, filename, author, message string) (archive.Revision, error)
	History(documentID string, limit int) ([]archive.Revision, error)
}

// publisher mirrors local events onto a shared channel so multiple
// instances see each other's transitions. Nil disables it.
type publisher interface {
	Publish(ctx context.Context, event events.Event) error
	Ping(ctx context.Context) error
}

// objectArchiver uploads checked-in blobs to object storage. Nil disables it.
type objectArchiver interface {
	Upload(ctx context.Context, key string, data []byte) error
}

type mailer interface {
	IsConfigured() bool
	SendReminder(to, approverName, documentTitle, requestedBy string) error
}

// DocumentHandle points at the latest persisted revision of a document.
type DocumentHandle struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	BlobRef     string    `json:"blobRef"`
	LastUpdated time.Time `json:"lastUpdated"`
	Finalized   bool      `json:"isFinalized"`
}

// LockState is the single checkout lock for a document. Locked == false
// implies an empty HolderID; there is never more than one holder.
type LockState struct {
	Locked         bool      `json:"isLocked"`
	HolderID       string    `json:"holderId,omitempty"`
	HolderPlatform string    `json:"holderPlatform,omitempty"`
	AcquiredAt     time.Time `json:"acquiredAt,omitempty"`
}

// Approval statuses. "none" is the seeded default.
const (
	StatusNone     = "none"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

const maxNotesLength = 200

// ApprovalEntry is one required sign-off. Order is the routing position;
// after any reorder the collection's orders form a dense 1..N sequence.
type ApprovalEntry struct {
	ApproverID string    `json:"approverId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Order      int       `json:"order"`
	Status     string    `json:"status"`
	UpdatedBy  string    `json:"updatedBy,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// documentState is everything the service owns for one document id. All
// reads and mutations happen under mu so two racing checkouts cannot both
// observe the document as available.
type documentState struct {
	mu     sync.Mutex
	handle DocumentHandle
	lock   LockState
	ledger []ApprovalEntry
}

type Service struct {
	store       DirectoryStore
	blobs       blobStore
	broadcaster *events.Broadcaster
	archive     revisionArchive
	bridge      publisher
	objects     objectArchiver
	mail        mailer

	defaultDocumentID string
	maxBlobBytes      int

	mu   sync.Mutex
	docs map[string]*documentState

	snapMu sync.Mutex
	snaps  map[string]docSnapshot
}

// Options carries the optional collaborators; zero values disable them.
type Options struct {
	Archive      revisionArchive
	Bridge       publisher
	Objects      objectArchiver
	Mail         mailer
	MaxBlobBytes int
}

func New(directory DirectoryStore, blobs blobStore, broadcaster *events.Broadcaster, defaultDocumentID string, opts Options) *Service {
	maxBlob := opts.MaxBlobBytes
	if maxBlob <= 0 {
		maxBlob = 25 << 20
	}
	return &Service{
		store:             directory,
		blobs:             blobs,
		broadcaster:       broadcaster,
		archive:           opts.Archive,
		bridge:            opts.Bridge,
		objects:           opts.Objects,
		mail:              opts.Mail,
		defaultDocumentID: defaultDocumentID,
		maxBlobBytes:      maxBlob,
		docs:              map[string]*documentState{},
		snaps:             map[string]docSnapshot{},
	}
}

// SeedActors is the pre-provisioned directory used when the backing store
// starts empty. Actors are provisioned, never self-registered.
func SeedActors() []store.Actor {
	return []store.Actor{
		{ID: "usr_warren", DisplayName: "Warren Pierce", Email: "warren.pierce@example.com", Role: "editor", Platform: "web"},
		{ID: "usr_gwen", DisplayName: "Gwen Tanaka", Email: "gwen.tanaka@example.com", Role: "viewer", Platform: "web"},
		{ID: "usr_sam", DisplayName: "Sam Okafor", Email: "sam.okafor@example.com", Role: "suggester", Platform: "word"},
		{ID: "usr_vera", DisplayName: "Vera Lindqvist", Email: "vera.lindqvist@example.com", Role: "vendor", Platform: "word"},
	}
}

// Bootstrap provisions the seed actors, restores persisted snapshots, and
// makes sure the default document exists with a seeded ledger.
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, actor := range SeedActors() {
		if err := s.store.EnsureActor(ctx, actor); err != nil {
			return fmt.Errorf("seed actor %s: %w", actor.ID, err)
		}
	}
	if err := s.loadSnapshots(); err != nil {
		return fmt.Errorf("restore snapshots: %w", err)
	}
	if _, err := s.document(ctx, s.defaultDocumentID); err != nil {
		return fmt.Errorf("seed default document: %w", err)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingBridge(ctx context.Context) error {
	if s.bridge == nil {
		return nil
	}
	return s.bridge.Ping(ctx)
}

// DefaultDocumentID resolves an optional document id from a request body.
func (s *Service) DefaultDocumentID(id string) string {
	if id == "" {
		return s.defaultDocumentID
	}
	return id
}

// document returns the state for an id, creating and ledger-seeding it on
// first use. Seeding is idempotent: one entry per directory actor with
// status none, in directory order.
func (s *Service) document(ctx context.Context, documentID string) (*documentState, error) {
	s.mu.Lock()
	doc, ok := s.docs[documentID]
	if ok {
		s.mu.Unlock()
		return doc, nil
	}
	s.mu.Unlock()

	actors, err := s.store.ListActors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[documentID]; ok {
		return doc, nil
	}
	doc = &documentState{
		handle: DocumentHandle{
			ID:       documentID,
			Filename: "document.docx",
			BlobRef:  blobName(documentID),
		},
	}
	for i, actor := range actors {
		doc.ledger = append(doc.ledger, ApprovalEntry{
			ApproverID: actor.ID,
			Name:       actor.DisplayName,
			Email:      actor.Email,
			Order:      i + 1,
			Status:     StatusNone,
		})
	}
	s.docs[documentID] = doc
	return doc, nil
}

func blobName(documentID string) string {
	return documentID + ".docx"
}

func (s *Service) actor(ctx context.Context, actorID string) (store.Actor, error) {
	if actorID == "" {
		return store.Actor{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "actorId is required", nil)
	}
	actor, err := s.store.GetActor(ctx, actorID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Actor{}, domainError(http.StatusNotFound, "ACTOR_NOT_FOUND", "Unknown actor", nil)
		}
		return store.Actor{}, fmt.Errorf("get actor %s: %w", actorID, err)
	}
	return actor, nil
}

// relation classifies an actor against the current lock. Identity is by
// actor id only; the platform the actor is calling from never matters.
func relation(lock LockState, actorID string) policy.Relation {
	if !lock.Locked {
		return policy.LockFree
	}
	if lock.HolderID == actorID {
		return policy.LockSelf
	}
	return policy.LockOther
}

// emit broadcasts locally and mirrors to the bridge. The bridge publish
// runs detached so network latency never holds the document mutex, and
// failures never reach the caller of the mutation that produced the event.
func (s *Service) emit(_ context.Context, event events.Event) {
	s.broadcaster.Emit(event)
	if s.bridge != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.bridge.Publish(ctx, event); err != nil {
				log.Printf("event bridge publish failed: %v", err)
			}
		}()
	}
}

// audit records a trail entry; failures are logged, never surfaced.
func (s *Service) audit(ctx context.Context, documentID, action string, actor store.Actor, detail string) {
	err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		ID:         util.NewID("aud"),
		DocumentID: documentID,
		Action:     action,
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Printf("audit insert failed for %s/%s: %v", documentID, action, err)
	}
}

// Subscribe attaches an observer to the event stream, optionally scoped
// to one platform. The returned channel closes when the subscriber is
// evicted; cancel detaches it.
func (s *Service) Subscribe(platform string) (string, <-chan events.Event, func()) {
	return s.broadcaster.Subscribe(platform)
}

// Actors lists the directory.
func (s *Service) Actors(ctx context.Context) ([]store.Actor, error) {
	return s.store.ListActors(ctx)
}

// AuditEvents lists the most recent trail entries for a document.
func (s *Service) AuditEvents(ctx context.Context, documentID string, limit int) ([]store.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListAuditEvents(ctx, s.DefaultDocumentID(documentID), limit)
}

// History lists archived revisions, newest first.
func (s *Service) History(ctx context.Context, documentID string, limit int) ([]archive.Revision, error) {
	if s.archive == nil {
		return []archive.Revision{}, nil
	}
	return s.archive.History(s.DefaultDocumentID(documentID), limit)
}

// holderSummary resolves display fields for the current lock holder. Best
// effort: an unknown holder id still yields the raw id.
func (s *Service) holderSummary(ctx context.Context, lock LockState) map[string]any {
	if !lock.Locked {
		return nil
	}
	summary := map[string]any{
		"id":         lock.HolderID,
		"platform":   lock.HolderPlatform,
		"acquiredAt": lock.AcquiredAt,
	}
	if actor, err := s.store.GetActor(ctx, lock.HolderID); err == nil {
		summary["name"] = actor.DisplayName
		summary["role"] = actor.Role
	}
	return summary
}
