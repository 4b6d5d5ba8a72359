package authz

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/enrollflow/enrollflow/internal/requirement"
	"github.com/enrollflow/enrollflow/model"
)

// --- Test helpers ---

type staticDocSource struct {
	docs []model.Document
}

func (s *staticDocSource) DocumentsFor(_ context.Context, _ string) ([]model.Document, error) {
	return s.docs, nil
}

func newAuthorizer(docs ...model.Document) *Authorizer {
	ev := requirement.NewEvaluator(&staticDocSource{docs: docs}, nil)
	return NewAuthorizer(ev, nil)
}

func reviewTransition(perms ...string) model.Transition {
	return model.Transition{ID: "t-1", Name: "Advance to Review", RequiredPermissions: perms}
}

// --- UserHasPermission tests ---

func TestUserHasPermission_emptySet(t *testing.T) {
	a := newAuthorizer()
	actor := model.Actor{ID: "u-1", Permissions: model.NewPermissionSet()}

	ok, err := a.UserHasPermission(context.Background(), reviewTransition(), actor)
	if err != nil {
		t.Fatalf("UserHasPermission error: %v", err)
	}
	if !ok {
		t.Error("transition with no required permissions must be executable by anyone")
	}
}

// OR semantics: a transition requiring {reviewer, admin} is executable by
// an actor holding only admin.
func TestUserHasPermission_orSemantics(t *testing.T) {
	a := newAuthorizer()
	actor := model.Actor{ID: "u-1", Permissions: model.NewPermissionSet("admin")}

	ok, err := a.UserHasPermission(context.Background(), reviewTransition("reviewer", "admin"), actor)
	if err != nil {
		t.Fatalf("UserHasPermission error: %v", err)
	}
	if !ok {
		t.Error("actor holding one of the required permissions must pass")
	}

	none := model.Actor{ID: "u-2", Permissions: model.NewPermissionSet("registrar")}
	ok, err = a.UserHasPermission(context.Background(), reviewTransition("reviewer", "admin"), none)
	if err != nil {
		t.Fatalf("UserHasPermission error: %v", err)
	}
	if ok {
		t.Error("actor holding none of the required permissions must fail")
	}
}

func TestUserHasPermission_wildcardScope(t *testing.T) {
	a := newAuthorizer()
	actor := model.Actor{ID: "u-1", Permissions: model.NewPermissionSet("admissions:*")}

	ok, err := a.UserHasPermission(context.Background(), reviewTransition("admissions:application:review"), actor)
	if err != nil {
		t.Fatalf("UserHasPermission error: %v", err)
	}
	if !ok {
		t.Error("wildcard scope must satisfy namespaced permissions")
	}
}

func TestUserHasPermission_systemActorBypasses(t *testing.T) {
	a := newAuthorizer()

	ok, err := a.UserHasPermission(context.Background(), reviewTransition("admin"), model.SystemActor())
	if err != nil {
		t.Fatalf("UserHasPermission error: %v", err)
	}
	if !ok {
		t.Error("system actor must satisfy any permission set")
	}
}

// --- IsAvailable tests ---

func TestIsAvailable_noConditions(t *testing.T) {
	a := newAuthorizer()

	ok, issues, err := a.IsAvailable(context.Background(), reviewTransition(), model.Application{ID: "app-1"}, model.Stage{})
	if err != nil {
		t.Fatalf("IsAvailable error: %v", err)
	}
	if !ok || len(issues) != 0 {
		t.Errorf("ok=%v issues=%v, want trivially available", ok, issues)
	}
}

func TestIsAvailable_unmetCondition(t *testing.T) {
	a := newAuthorizer() // no documents
	tr := reviewTransition()
	tr.Conditions = []model.Condition{{Kind: model.CondDocumentVerified, DocumentType: "transcript"}}

	ok, issues, err := a.IsAvailable(context.Background(), tr, model.Application{ID: "app-1"}, model.Stage{})
	if err != nil {
		t.Fatalf("IsAvailable error: %v", err)
	}
	if ok {
		t.Error("missing transcript must make the transition unavailable")
	}
	if len(issues) == 0 {
		t.Error("expected issues explaining unavailability")
	}
}

// --- CachedResolver tests ---

type countingResolver struct {
	calls atomic.Int64
	perms model.PermissionSet
}

func (c *countingResolver) ResolvePermissions(_ context.Context, _ string) (model.PermissionSet, error) {
	c.calls.Add(1)
	return c.perms, nil
}

func TestCachedResolver_cachesWithinTTL(t *testing.T) {
	upstream := &countingResolver{perms: model.NewPermissionSet("reviewer")}
	r := NewCachedResolver(upstream, time.Minute)

	for i := 0; i < 3; i++ {
		perms, err := r.ResolvePermissions(context.Background(), "u-1")
		if err != nil {
			t.Fatalf("ResolvePermissions error: %v", err)
		}
		if !perms.Has("reviewer") {
			t.Error("expected reviewer permission")
		}
	}
	if got := upstream.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestCachedResolver_invalidate(t *testing.T) {
	upstream := &countingResolver{perms: model.NewPermissionSet("reviewer")}
	r := NewCachedResolver(upstream, time.Minute)

	if _, err := r.ResolvePermissions(context.Background(), "u-1"); err != nil {
		t.Fatalf("ResolvePermissions error: %v", err)
	}
	r.Invalidate("u-1")
	if _, err := r.ResolvePermissions(context.Background(), "u-1"); err != nil {
		t.Fatalf("ResolvePermissions error: %v", err)
	}
	if got := upstream.calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestResolverPermissionSource(t *testing.T) {
	upstream := &countingResolver{perms: model.NewPermissionSet("admin")}
	src := ResolverPermissionSource{Resolver: upstream}

	ok, err := src.ActorHasAnyPermission(context.Background(), model.Actor{ID: "u-1"}, []string{"reviewer", "admin"})
	if err != nil {
		t.Fatalf("ActorHasAnyPermission error: %v", err)
	}
	if !ok {
		t.Error("expected resolver-backed permissions to satisfy OR check")
	}
}
