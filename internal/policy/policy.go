// Package policy is the authorization matrix for document actions.
// It is a pure function of (role, lock relation, finalized) so the full
// permission table can be tested exhaustively; it holds no state and is
// consumed both by the server-side guards and the state-matrix endpoint.
package policy

import "fmt"

type Role string
type Platform string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleEditor    Role = "editor"
	RoleSuggester Role = "suggester"
	RoleVendor    Role = "vendor"
)

const (
	PlatformWeb  Platform = "web"
	PlatformWord Platform = "word"
)

const (
	ActionCheckout     Action = "checkout"
	ActionSave         Action = "save"
	ActionCheckIn      Action = "checkin"
	ActionCancel       Action = "cancel"
	ActionOverride     Action = "override"
	ActionFinalize     Action = "finalize"
	ActionUnfinalize   Action = "unfinalize"
	ActionInviteVendor Action = "inviteVendor"
)

// Relation is the caller's relationship to the checkout lock. Self-holding
// is decided by actor id equality alone, never by platform: the same person
// acting from the add-in or the web viewer is one holder.
type Relation int

const (
	LockFree Relation = iota
	LockSelf
	LockOther
)

// Grant is the set of actions permitted in a given (role, relation) cell.
type Grant struct {
	Checkout     bool `json:"checkout"`
	Save         bool `json:"save"`
	CheckIn      bool `json:"checkin"`
	Cancel       bool `json:"cancel"`
	Override     bool `json:"override"`
	Finalize     bool `json:"finalize"`
	Unfinalize   bool `json:"unfinalize"`
	InviteVendor bool `json:"inviteVendor"`

	// Ledger permissions: approve/reject for others and approver management.
	ActOnBehalf     bool `json:"actOnBehalf"`
	ManageApprovers bool `json:"manageApprovers"`
}

// grants is the permission table for non-finalized documents.
var grants = map[Role]map[Relation]Grant{
	RoleViewer: {
		LockFree:  {},
		LockSelf:  {},
		LockOther: {},
	},
	RoleEditor: {
		LockFree:  {Checkout: true, InviteVendor: true, ActOnBehalf: true, ManageApprovers: true},
		LockSelf:  {Save: true, CheckIn: true, Cancel: true, Finalize: true, ActOnBehalf: true, ManageApprovers: true},
		LockOther: {Override: true, ActOnBehalf: true, ManageApprovers: true},
	},
	RoleSuggester: {
		LockFree:  {Checkout: true},
		LockSelf:  {Save: true, CheckIn: true, Cancel: true},
		LockOther: {},
	},
	RoleVendor: {
		LockFree:  {Checkout: true},
		LockSelf:  {Save: true, CheckIn: true, Cancel: true},
		LockOther: {},
	},
}

// Evaluate returns the permitted actions for a role and lock relation.
// Finalized documents admit only unfinalize (editor); ledger permissions
// are unaffected because approvals are not lock-acquiring.
func Evaluate(role Role, rel Relation, finalized bool) Grant {
	if finalized {
		if role == RoleEditor {
			return Grant{Unfinalize: true, ActOnBehalf: true, ManageApprovers: true}
		}
		return Grant{}
	}
	byRel, ok := grants[role]
	if !ok {
		return Grant{}
	}
	return byRel[rel]
}

func (g Grant) Allows(action Action) bool {
	switch action {
	case ActionCheckout:
		return g.Checkout
	case ActionSave:
		return g.Save
	case ActionCheckIn:
		return g.CheckIn
	case ActionCancel:
		return g.Cancel
	case ActionOverride:
		return g.Override
	case ActionFinalize:
		return g.Finalize
	case ActionUnfinalize:
		return g.Unfinalize
	case ActionInviteVendor:
		return g.InviteVendor
	default:
		return false
	}
}

// StatusText renders the user-facing banner for a lock relation. Rejected
// transitions reuse this so clients always see who holds the document.
func StatusText(rel Relation, holderName string, holderPlatform Platform, finalized bool) string {
	if finalized {
		return "Document finalized - read only"
	}
	switch rel {
	case LockFree:
		return "Available for check-out"
	case LockSelf:
		return "Checked out by you"
	default:
		if holderName == "" {
			return "Checked out by another user"
		}
		return fmt.Sprintf("Checked out by %s (%s)", holderName, holderPlatform)
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleSuggester, RoleVendor:
		return Role(role)
	default:
		return RoleViewer
	}
}

func NormalizePlatform(platform string) (Platform, bool) {
	switch Platform(platform) {
	case PlatformWeb, PlatformWord:
		return Platform(platform), true
	default:
		return "", false
	}
}
