package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/enrollflow/enrollflow/model"
)

// LogEventSink writes domain events to the structured log. It is the
// default publisher and the fallback when no broker is configured.
type LogEventSink struct {
	logger *zap.Logger
}

// NewLogEventSink creates a LogEventSink.
func NewLogEventSink(logger *zap.Logger) *LogEventSink {
	return &LogEventSink{logger: logger}
}

func (s *LogEventSink) StatusChanged(_ context.Context, event model.StatusChanged) {
	fields := []zap.Field{
		zap.String("application_id", event.ApplicationID),
		zap.String("status_id", event.New.ID),
		zap.String("stage_id", event.New.StageID),
		zap.String("label", event.New.Label),
	}
	if event.Previous != nil {
		fields = append(fields, zap.String("previous_stage_id", event.Previous.StageID))
	}
	s.logger.Info("status changed", fields...)
}

func (s *LogEventSink) StageCompleted(_ context.Context, event model.StageCompleted) {
	s.logger.Info("stage completed",
		zap.String("application_id", event.ApplicationID),
		zap.String("stage_id", event.StageID),
		zap.String("stage_name", event.StageName),
	)
}

// RedisEventSink publishes domain events to a Redis channel as JSON
// envelopes. Publishing is best-effort: a failed publish is logged and
// never fails the transition that produced the event.
type RedisEventSink struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisEventSink creates a RedisEventSink publishing to the given channel.
func NewRedisEventSink(client *redis.Client, channel string, logger *zap.Logger) *RedisEventSink {
	return &RedisEventSink{client: client, channel: channel, logger: logger}
}

// eventEnvelope wraps a domain event with its type for consumers.
type eventEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (s *RedisEventSink) publish(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(eventEnvelope{Type: eventType, Payload: payload})
	if err != nil {
		s.logger.Error("marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		s.logger.Error("publish event",
			zap.String("type", eventType),
			zap.String("channel", s.channel),
			zap.Error(err))
	}
}

func (s *RedisEventSink) StatusChanged(ctx context.Context, event model.StatusChanged) {
	s.publish(ctx, "status_changed", event)
}

func (s *RedisEventSink) StageCompleted(ctx context.Context, event model.StageCompleted) {
	s.publish(ctx, "stage_completed", event)
}

// HealthCheck pings the Redis connection.
func (s *RedisEventSink) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryEventSink records events in memory for inspection in tests.
type MemoryEventSink struct {
	mu               sync.Mutex
	statusChanges    []model.StatusChanged
	stageCompletions []model.StageCompleted
}

// NewMemoryEventSink creates an empty MemoryEventSink.
func NewMemoryEventSink() *MemoryEventSink {
	return &MemoryEventSink{}
}

func (s *MemoryEventSink) StatusChanged(_ context.Context, event model.StatusChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusChanges = append(s.statusChanges, event)
}

func (s *MemoryEventSink) StageCompleted(_ context.Context, event model.StageCompleted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageCompletions = append(s.stageCompletions, event)
}

// StatusChanges returns a copy of the recorded StatusChanged events.
func (s *MemoryEventSink) StatusChanges() []model.StatusChanged {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StatusChanged, len(s.statusChanges))
	copy(out, s.statusChanges)
	return out
}

// StageCompletions returns a copy of the recorded StageCompleted events.
func (s *MemoryEventSink) StageCompletions() []model.StageCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StageCompleted, len(s.stageCompletions))
	copy(out, s.stageCompletions)
	return out
}

// LogAuditSink writes audit entries to the structured log. Used for
// registry operations that have no transactional audit path of their own.
type LogAuditSink struct {
	logger *zap.Logger
}

// NewLogAuditSink creates a LogAuditSink.
func NewLogAuditSink(logger *zap.Logger) *LogAuditSink {
	return &LogAuditSink{logger: logger}
}

func (s *LogAuditSink) Record(_ context.Context, entry model.AuditEntry) {
	s.logger.Info("audit",
		zap.String("action", entry.Action),
		zap.String("resource_type", entry.ResourceType),
		zap.String("resource_id", entry.ResourceID),
		zap.String("actor_id", entry.ActorID),
		zap.Any("after", entry.After),
	)
}

// MemoryAuditSink records audit entries in memory for tests.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

// NewMemoryAuditSink creates an empty MemoryAuditSink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Record(_ context.Context, entry model.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

// Entries returns a copy of the recorded audit entries.
func (s *MemoryAuditSink) Entries() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
