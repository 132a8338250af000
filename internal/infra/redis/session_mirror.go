package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
)

// SessionMirror publishes live timer state to Redis so any instance can serve
// a learner's countdown and answered map without hitting the primary store.
// Layout per attempt:
//
//	SET  attempt:{id}:deadline  RFC3339 deadline
//	HSET attempt:{id}:answered  {questionID} 0|1
//
// Keys carry a retention TTL and are deleted when the attempt closes. All
// writes are best-effort from the engine's point of view.
type SessionMirror struct {
	client    *redis.Client
	retention time.Duration
}

func NewSessionMirror(client *redis.Client, retention time.Duration) *SessionMirror {
	return &SessionMirror{client: client, retention: retention}
}

func (m *SessionMirror) AttemptStarted(ctx context.Context, session domain.AttemptSession) error {
	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.deadlineKey(session.AttemptID), session.Deadline.Format(time.RFC3339), m.retention)
	for _, q := range session.Questions {
		pipe.HSet(ctx, m.answeredKey(session.AttemptID), q.QuestionID, boolField(q.Answered))
	}
	pipe.Expire(ctx, m.answeredKey(session.AttemptID), m.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror attempt start: %w", err)
	}
	return nil
}

func (m *SessionMirror) QuestionAnswered(ctx context.Context, session domain.AttemptSession, questionID string) error {
	if err := m.client.HSet(ctx, m.answeredKey(session.AttemptID), questionID, "1").Err(); err != nil {
		return fmt.Errorf("mirror answer: %w", err)
	}
	return nil
}

func (m *SessionMirror) AttemptClosed(ctx context.Context, attemptID string) error {
	if err := m.client.Del(ctx, m.deadlineKey(attemptID), m.answeredKey(attemptID)).Err(); err != nil {
		return fmt.Errorf("mirror close: %w", err)
	}
	return nil
}

// Snapshot reads the mirrored deadline and answered map for an attempt. It
// is the read side of the mirror: an instance that does not hold the attempt
// in its primary store can still serve countdown and answered-state queries
// from here. Returns domain.ErrSessionNotFound when the attempt has no
// mirrored state (closed, expired out of retention, or never mirrored).
func (m *SessionMirror) Snapshot(ctx context.Context, attemptID string) (time.Time, map[string]bool, error) {
	raw, err := m.client.Get(ctx, m.deadlineKey(attemptID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("read mirrored deadline: %w", err)
	}
	deadline, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("parse mirrored deadline: %w", err)
	}

	fields, err := m.client.HGetAll(ctx, m.answeredKey(attemptID)).Result()
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("read mirrored answers: %w", err)
	}
	answered := make(map[string]bool, len(fields))
	for questionID, value := range fields {
		answered[questionID] = value == "1"
	}
	return deadline, answered, nil
}

func (m *SessionMirror) deadlineKey(attemptID string) string {
	return "attempt:" + attemptID + ":deadline"
}

func (m *SessionMirror) answeredKey(attemptID string) string {
	return "attempt:" + attemptID + ":answered"
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
