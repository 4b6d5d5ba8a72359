package authz

import (
	"context"
	"sync"
	"time"

	"github.com/enrollflow/enrollflow/model"
)

// PermissionResolver resolves the full permission set for a subject.
type PermissionResolver interface {
	ResolvePermissions(ctx context.Context, subjectID string) (model.PermissionSet, error)
}

type cacheEntry struct {
	perms   model.PermissionSet
	expires time.Time
}

// CachedResolver wraps a PermissionResolver with an in-memory TTL cache,
// so repeated availability queries for the same subject don't hammer the
// upstream identity system.
type CachedResolver struct {
	resolver PermissionResolver
	ttl      time.Duration
	mu       sync.RWMutex
	cache    map[string]cacheEntry
}

// NewCachedResolver creates a CachedResolver with the given TTL.
func NewCachedResolver(resolver PermissionResolver, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		resolver: resolver,
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
	}
}

// ResolvePermissions returns the cached permission set for the subject,
// consulting the wrapped resolver on miss or expiry.
func (r *CachedResolver) ResolvePermissions(ctx context.Context, subjectID string) (model.PermissionSet, error) {
	r.mu.RLock()
	if entry, ok := r.cache[subjectID]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		return entry.perms, nil
	}
	r.mu.RUnlock()

	perms, err := r.resolver.ResolvePermissions(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[subjectID] = cacheEntry{perms: perms, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return perms, nil
}

// Invalidate drops the cached entry for a subject, forcing the next
// resolution to hit the upstream source.
func (r *CachedResolver) Invalidate(subjectID string) {
	r.mu.Lock()
	delete(r.cache, subjectID)
	r.mu.Unlock()
}

// ResolverPermissionSource adapts a PermissionResolver into a
// PermissionSource, looking up the actor's permissions by subject id
// instead of trusting the set carried on the actor.
type ResolverPermissionSource struct {
	Resolver PermissionResolver
}

func (s ResolverPermissionSource) ActorHasAnyPermission(ctx context.Context, actor model.Actor, permissionIDs []string) (bool, error) {
	perms, err := s.Resolver.ResolvePermissions(ctx, actor.ID)
	if err != nil {
		return false, err
	}
	return perms.HasAny(permissionIDs...), nil
}
