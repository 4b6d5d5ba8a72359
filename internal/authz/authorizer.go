// Package authz decides whether a transition may be executed: whether its
// condition predicates currently hold, and whether the acting identity
// carries one of its required permissions.
package authz

import (
	"context"

	"github.com/enrollflow/enrollflow/internal/requirement"
	"github.com/enrollflow/enrollflow/model"
)

// PermissionSource answers permission-membership queries for an actor.
// Implementations may consult an external identity system; the default
// source reads the actor's own resolved permission set.
type PermissionSource interface {
	ActorHasAnyPermission(ctx context.Context, actor model.Actor, permissionIDs []string) (bool, error)
}

// ActorPermissionSource is the default PermissionSource: it checks the
// permission set carried by the actor itself (resolved from token claims
// by the transport layer).
type ActorPermissionSource struct{}

func (ActorPermissionSource) ActorHasAnyPermission(_ context.Context, actor model.Actor, permissionIDs []string) (bool, error) {
	return actor.Permissions.HasAny(permissionIDs...), nil
}

// Authorizer gates transitions on availability and permission.
type Authorizer struct {
	evaluator   *requirement.Evaluator
	permissions PermissionSource
}

// NewAuthorizer creates an Authorizer. If permissions is nil the
// ActorPermissionSource is used.
func NewAuthorizer(evaluator *requirement.Evaluator, permissions PermissionSource) *Authorizer {
	if permissions == nil {
		permissions = ActorPermissionSource{}
	}
	return &Authorizer{evaluator: evaluator, permissions: permissions}
}

// IsAvailable evaluates the transition's condition predicates against the
// current application and document state. A transition with an empty
// condition list is trivially available. The returned issues list explains
// an unavailable transition.
func (a *Authorizer) IsAvailable(ctx context.Context, t model.Transition, app model.Application, sourceStage model.Stage) (bool, []string, error) {
	return a.evaluator.EvaluateConditions(ctx, t.Conditions, app, sourceStage)
}

// UserHasPermission reports whether the actor may execute the transition.
// An empty required-permission set means anyone may; otherwise the actor
// needs at least one of the listed permissions (OR semantics). The system
// actor satisfies every permission set.
func (a *Authorizer) UserHasPermission(ctx context.Context, t model.Transition, actor model.Actor) (bool, error) {
	if actor.System {
		return true, nil
	}
	if len(t.RequiredPermissions) == 0 {
		return true, nil
	}
	return a.permissions.ActorHasAnyPermission(ctx, actor, t.RequiredPermissions)
}
