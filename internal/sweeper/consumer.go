package sweeper

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/queue"
)

// JobEndSession asks the worker to end a session on the owner's behalf.
const JobEndSession = "session.end"

// EndSessionJob is the body of a JobEndSession message.
type EndSessionJob struct {
	SessionID string `json:"session_id"`
	ActorID   string `json:"actor_id"`
}

// NewEndSessionMessage builds the queue message for an owner's end request.
func NewEndSessionMessage(sessionID, actorID string) (queue.Message, error) {
	return queue.NewMessage(JobEndSession, EndSessionJob{SessionID: sessionID, ActorID: actorID})
}

// Consume handles end-session jobs until ctx is done or the queue closes.
// Failed jobs are logged and dropped; a still-active session is picked up
// by the scheduled sweep once it expires.
func (s *Sweeper) Consume(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != JobEndSession {
			s.logger.Warn("ignoring unknown job", zap.String("type", msg.Type))
			continue
		}
		var job EndSessionJob
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			s.logger.Error("bad end-session job", zap.Error(err))
			continue
		}
		if err := s.EndSession(ctx, job.SessionID); err != nil {
			level := s.logger.Error
			if errors.Is(err, attendance.ErrSessionNotFound) {
				level = s.logger.Warn
			}
			level("end session failed", zap.String("session_id", job.SessionID), zap.String("actor_id", job.ActorID), zap.Error(err))
			continue
		}
		s.logger.Info("session ended by owner", zap.String("session_id", job.SessionID), zap.String("actor_id", job.ActorID))
	}
	return nil
}
