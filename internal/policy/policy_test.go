package policy

import "testing"

func TestEvaluateMatrix(t *testing.T) {
	tests := []struct {
		name string
		role Role
		rel  Relation
		want Grant
	}{
		{name: "viewer free", role: RoleViewer, rel: LockFree, want: Grant{}},
		{name: "viewer other", role: RoleViewer, rel: LockOther, want: Grant{}},
		{
			name: "editor free",
			role: RoleEditor,
			rel:  LockFree,
			want: Grant{Checkout: true, InviteVendor: true, ActOnBehalf: true, ManageApprovers: true},
		},
		{
			name: "editor self",
			role: RoleEditor,
			rel:  LockSelf,
			want: Grant{Save: true, CheckIn: true, Cancel: true, Finalize: true, ActOnBehalf: true, ManageApprovers: true},
		},
		{
			name: "editor other",
			role: RoleEditor,
			rel:  LockOther,
			want: Grant{Override: true, ActOnBehalf: true, ManageApprovers: true},
		},
		{name: "suggester free", role: RoleSuggester, rel: LockFree, want: Grant{Checkout: true}},
		{name: "suggester self", role: RoleSuggester, rel: LockSelf, want: Grant{Save: true, CheckIn: true, Cancel: true}},
		{name: "suggester other", role: RoleSuggester, rel: LockOther, want: Grant{}},
		{name: "vendor free", role: RoleVendor, rel: LockFree, want: Grant{Checkout: true}},
		{name: "vendor self", role: RoleVendor, rel: LockSelf, want: Grant{Save: true, CheckIn: true, Cancel: true}},
		{name: "vendor other", role: RoleVendor, rel: LockOther, want: Grant{}},
		{name: "unknown role", role: Role("ghost"), rel: LockFree, want: Grant{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.role, tc.rel, false)
			if got != tc.want {
				t.Fatalf("Evaluate(%s, %d) = %+v, want %+v", tc.role, tc.rel, got, tc.want)
			}
		})
	}
}

func TestFinalizedDisablesLockActions(t *testing.T) {
	for _, role := range []Role{RoleViewer, RoleEditor, RoleSuggester, RoleVendor} {
		for _, rel := range []Relation{LockFree, LockSelf, LockOther} {
			g := Evaluate(role, rel, true)
			if g.Checkout || g.Save || g.CheckIn || g.Cancel || g.Override || g.Finalize || g.InviteVendor {
				t.Fatalf("role %s rel %d: finalized document must not permit lock actions, got %+v", role, rel, g)
			}
			if role == RoleEditor && !g.Unfinalize {
				t.Fatalf("editor must be able to unfinalize")
			}
			if role != RoleEditor && g.Unfinalize {
				t.Fatalf("role %s must not unfinalize", role)
			}
		}
	}
}

func TestOverrideIsEditorOnly(t *testing.T) {
	for _, role := range []Role{RoleViewer, RoleSuggester, RoleVendor} {
		if Evaluate(role, LockOther, false).Override {
			t.Fatalf("role %s must never override another holder", role)
		}
	}
	if !Evaluate(RoleEditor, LockOther, false).Allows(ActionOverride) {
		t.Fatalf("editor must be able to override another holder")
	}
}

func TestStatusText(t *testing.T) {
	if got := StatusText(LockFree, "", "", false); got != "Available for check-out" {
		t.Fatalf("free status = %q", got)
	}
	if got := StatusText(LockSelf, "Warren Pierce", PlatformWeb, false); got != "Checked out by you" {
		t.Fatalf("self status = %q", got)
	}
	if got := StatusText(LockOther, "Warren Pierce", PlatformWord, false); got != "Checked out by Warren Pierce (word)" {
		t.Fatalf("other status = %q", got)
	}
	if got := StatusText(LockOther, "x", PlatformWeb, true); got != "Document finalized - read only" {
		t.Fatalf("finalized status = %q", got)
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("editor") != RoleEditor {
		t.Fatalf("editor should normalize to itself")
	}
	if Normalize("superuser") != RoleViewer {
		t.Fatalf("unknown roles fall back to viewer")
	}
	if _, ok := NormalizePlatform("word"); !ok {
		t.Fatalf("word is a valid platform")
	}
	if _, ok := NormalizePlatform("mobile"); ok {
		t.Fatalf("mobile is not a valid platform")
	}
}
