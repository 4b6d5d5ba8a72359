package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/enrollflow/enrollflow/model"
)

func testStatus(id string) model.ApplicationStatus {
	return model.ApplicationStatus{
		ID:            id,
		ApplicationID: "app-1",
		StageID:       "st-review",
		Label:         "Review",
		ActorID:       "user-1",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// --- MemoryIdempotencyStore ---

func TestMemoryIdempotencyStore_CheckNotFound(t *testing.T) {
	store := NewMemoryIdempotencyStore()

	status, found, err := store.Check(context.Background(), "idem:app-1:key1", "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if status != nil {
		t.Errorf("status = %+v, want nil", status)
	}
}

func TestMemoryIdempotencyStore_StoreAndCheck(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := "idem:app-1:key1"
	hash := "hash-abc"

	if err := store.Store(ctx, key, hash, testStatus("s1"), 5*time.Minute); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	status, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if status == nil || status.ID != "s1" {
		t.Fatalf("status = %+v, want ID s1", status)
	}
	if status.StageID != "st-review" {
		t.Errorf("StageID = %q", status.StageID)
	}
}

func TestMemoryIdempotencyStore_ConflictOnHashMismatch(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := "idem:app-1:key1"

	if err := store.Store(ctx, key, "hash-abc", testStatus("s1"), 5*time.Minute); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	// Same key, different hash is a conflict.
	_, found, err := store.Check(ctx, key, "hash-different")
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !found {
		t.Error("found = false, want true (key exists)")
	}

	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if envErr.Code != model.ErrConflict {
		t.Errorf("error code = %s, want %s", envErr.Code, model.ErrConflict)
	}
}

func TestMemoryIdempotencyStore_TTLExpiry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := "idem:app-1:key1"

	if err := store.Store(ctx, key, "hash-abc", testStatus("s1"), 1*time.Millisecond); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	status, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false (expired)")
	}
	if status != nil {
		t.Errorf("status = %+v, want nil (expired)", status)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (expired entry removed)", store.Len())
	}
}

func TestMemoryIdempotencyStore_OverwriteExistingKey(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := "idem:app-1:key1"

	_ = store.Store(ctx, key, "hash-1", testStatus("s1"), 5*time.Minute)
	_ = store.Store(ctx, key, "hash-2", testStatus("s2"), 5*time.Minute)

	status, found, err := store.Check(ctx, key, "hash-2")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false")
	}
	if status.ID != "s2" {
		t.Errorf("status.ID = %q, want s2", status.ID)
	}
}

// --- RedisIdempotencyStore ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisIdempotencyStore_StoreAndCheck(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()
	key := "idem:app-1:key1"
	hash := "hash-abc"

	if err := store.Store(ctx, key, hash, testStatus("s1"), 5*time.Minute); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	status, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if status == nil || status.ID != "s1" {
		t.Fatalf("status = %+v, want ID s1", status)
	}
	if status.Label != "Review" {
		t.Errorf("Label = %q, want Review", status.Label)
	}
}

func TestRedisIdempotencyStore_CheckNotFound(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)

	status, found, err := store.Check(context.Background(), "idem:app-1:key1", "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if status != nil {
		t.Errorf("status = %+v, want nil", status)
	}
}

func TestRedisIdempotencyStore_ConflictOnHashMismatch(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()
	key := "idem:app-1:key1"

	if err := store.Store(ctx, key, "hash-abc", testStatus("s1"), 5*time.Minute); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	_, found, err := store.Check(ctx, key, "hash-different")
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !found {
		t.Error("found = false, want true")
	}

	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if envErr.Code != model.ErrConflict {
		t.Errorf("error code = %s, want %s", envErr.Code, model.ErrConflict)
	}
}

func TestRedisIdempotencyStore_TTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()
	key := "idem:app-1:key1"

	if err := store.Store(ctx, key, "hash-abc", testStatus("s1"), 1*time.Second); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	mr.FastForward(2 * time.Second)

	status, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false (expired)")
	}
	if status != nil {
		t.Errorf("status = %+v, want nil", status)
	}
}

func TestRedisIdempotencyStore_HealthCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck error: %v", err)
	}

	mr.Close()
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail after redis is gone")
	}
}

// --- Key helpers ---

func TestFormatIdempotencyKey(t *testing.T) {
	key := FormatIdempotencyKey("app-42", "user-key-123")
	want := "idem:app-42:user-key-123"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
}

func TestHashInput_stableAndOrderSensitive(t *testing.T) {
	a := HashInput("tr-1", "notes", "user-1")
	b := HashInput("tr-1", "notes", "user-1")
	if a != b {
		t.Error("identical input should hash identically")
	}
	if HashInput("tr-1", "notes") == HashInput("notes", "tr-1") {
		t.Error("hash should be sensitive to part order")
	}
	if HashInput("ab", "c") == HashInput("a", "bc") {
		t.Error("hash should be sensitive to part boundaries")
	}
}
