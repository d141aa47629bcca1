package auth

import (
	"context"
	"errors"
	"testing"
)

func TestPermissionMatches(t *testing.T) {
	cases := []struct {
		granted  string
		required string
		want     bool
	}{
		{"building:read", "building:read", true},
		{"building:read", "building:write", false},
		{"building:*", "building:read", true},
		{"building:*", "building:write", true},
		{"building:*", "report:read", false},
		{"*", "anything:at-all", true},
		{"", "building:read", false},
		{"building:read", "", false},
	}
	for _, tc := range cases {
		if got := PermissionMatches(tc.granted, tc.required); got != tc.want {
			t.Fatalf("PermissionMatches(%q, %q) = %v, want %v", tc.granted, tc.required, got, tc.want)
		}
	}
}

func TestAuthorizeGrantAndDeny(t *testing.T) {
	authz := NewAuthorizer(DefaultRoles(), DefaultRules(), nil)
	ctx := context.Background()

	viewer := Principal{UserID: "u1", Roles: []string{"viewer"}}
	if err := authz.Authorize(ctx, viewer, "building", "read"); err != nil {
		t.Fatalf("viewer building:read: %v", err)
	}
	if err := authz.Authorize(ctx, viewer, "building", "write"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("viewer building:write: expected denial, got %v", err)
	}

	operator := Principal{UserID: "u2", Roles: []string{"operator"}}
	if err := authz.Authorize(ctx, operator, "building", "write"); err != nil {
		t.Fatalf("operator building:write: %v", err)
	}
	if err := authz.Authorize(ctx, operator, "report", "export"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("operator report:export: expected denial, got %v", err)
	}

	admin := Principal{UserID: "u3", Roles: []string{"admin"}}
	if err := authz.Authorize(ctx, admin, "user", "manage"); err != nil {
		t.Fatalf("admin user:manage: %v", err)
	}
}

func TestAuthorizeUnmappedRequiresAdmin(t *testing.T) {
	authz := NewAuthorizer(DefaultRoles(), DefaultRules(), nil)
	ctx := context.Background()

	// An unmapped pair falls back to the administrative catch-all.
	viewer := Principal{UserID: "u1", Roles: []string{"viewer"}}
	if err := authz.Authorize(ctx, viewer, "thermostat", "calibrate"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial for unmapped pair, got %v", err)
	}
	admin := Principal{UserID: "u2", Roles: []string{"admin"}}
	if err := authz.Authorize(ctx, admin, "thermostat", "calibrate"); err != nil {
		t.Fatalf("admin must pass the fallback: %v", err)
	}
}

func TestAuthorizeUnknownRole(t *testing.T) {
	authz := NewAuthorizer(DefaultRoles(), DefaultRules(), nil)
	p := Principal{UserID: "u1", Roles: []string{"ghost"}}
	if err := authz.Authorize(context.Background(), p, "building", "read"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("unknown role must deny, got %v", err)
	}
}

func TestReplaceRoles(t *testing.T) {
	authz := NewAuthorizer(DefaultRoles(), DefaultRules(), nil)
	ctx := context.Background()
	p := Principal{UserID: "u1", Roles: []string{"auditor"}}

	if err := authz.Authorize(ctx, p, "report", "read"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("auditor not defined yet, got %v", err)
	}

	authz.ReplaceRoles(RoleSet{"auditor": {"report:*"}})
	if err := authz.Authorize(ctx, p, "report", "export"); err != nil {
		t.Fatalf("auditor after reload: %v", err)
	}
	// The old set is gone entirely.
	viewer := Principal{UserID: "u2", Roles: []string{"viewer"}}
	if err := authz.Authorize(ctx, viewer, "building", "read"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("viewer should vanish after reload, got %v", err)
	}
}
