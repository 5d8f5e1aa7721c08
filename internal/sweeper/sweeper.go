// Package sweeper closes sessions that have run past their duration and
// records every unmarked roster member as absent.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/metrics"
	"classattend/internal/window"
)

// Closing reasons stored on the session.
const (
	ReasonExpired      = window.ReasonExpired
	ReasonEndedByOwner = "ended by owner"
)

// Result summarizes one run.
type Result struct {
	EndedCount int      `json:"endedCount"`
	SessionIDs []string `json:"sessionIds"`
}

// Sweeper reconciles sessions with their rosters.
type Sweeper struct {
	records *attendance.Repository
	loc     *time.Location
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a sweeper. Session start times are read in loc.
func New(records *attendance.Repository, loc *time.Location, logger *zap.Logger) *Sweeper {
	if loc == nil {
		loc = time.UTC
	}
	return &Sweeper{records: records, loc: loc, logger: logger, now: time.Now}
}

// WithClock replaces the time source and returns s.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run closes every active session whose duration has elapsed. A failure
// on one session is logged and the rest are still processed; running
// again picks up where a failed run stopped.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	res := Result{SessionIDs: []string{}}
	sessions, err := s.records.ListActiveSessions(ctx)
	if err != nil {
		return res, fmt.Errorf("list active sessions: %w", err)
	}

	now := s.now()
	for _, sess := range sessions {
		sched, err := sess.Schedule(s.loc)
		if err != nil {
			s.logger.Error("sweep: bad session schedule", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		if !window.Expired(sched, now) {
			continue
		}
		closed, err := s.close(ctx, sess, ReasonExpired, now)
		if err != nil {
			s.logger.Error("sweep: close session failed", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		if closed {
			res.EndedCount++
			res.SessionIDs = append(res.SessionIDs, sess.ID)
		}
	}
	if res.EndedCount > 0 {
		s.logger.Info("sweep finished", zap.Int("ended_count", res.EndedCount), zap.Strings("session_ids", res.SessionIDs))
	}
	return res, nil
}

// EndSession closes one session on the owner's behalf. Ending a session
// that is already closed is a no-op.
func (s *Sweeper) EndSession(ctx context.Context, sessionID string) error {
	sess, err := s.records.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return attendance.ErrSessionNotFound
	}
	if !sess.IsActive {
		return nil
	}
	_, err = s.close(ctx, *sess, ReasonEndedByOwner, s.now())
	return err
}

// close backfills absences, then flips the session inactive. Absences go
// first so a crash in between leaves an active session the next run will
// finish; the uniqueness constraint makes the repeat harmless.
func (s *Sweeper) close(ctx context.Context, sess attendance.Session, reason string, now time.Time) (bool, error) {
	roster, err := s.records.ListMembers(ctx, sess.ClassID)
	if err != nil {
		return false, fmt.Errorf("load roster: %w", err)
	}
	recs, err := s.records.ListRecords(ctx, sess.ID)
	if err != nil {
		return false, fmt.Errorf("load records: %w", err)
	}
	recorded := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		recorded[r.MemberID] = struct{}{}
	}
	var missing []string
	for _, m := range roster {
		if _, ok := recorded[m]; !ok {
			missing = append(missing, m)
		}
	}

	inserted, err := s.records.InsertAbsences(ctx, sess, missing, now.UTC())
	if err != nil {
		return false, err
	}
	metrics.AbsencesRecorded.Add(float64(inserted))

	closed, err := s.records.CloseSession(ctx, sess.ID, reason, now.UTC())
	if err != nil {
		return false, err
	}
	if closed {
		metrics.SessionsClosed.WithLabelValues(reason).Inc()
		s.logger.Info("session closed",
			zap.String("session_id", sess.ID),
			zap.String("reason", reason),
			zap.Int("absences", inserted),
		)
	}
	return closed, nil
}

// Schedule returns a cron runner that sweeps on spec (for example
// "@every 1m"). Overlapping runs are skipped. The caller starts and stops it.
func (s *Sweeper) Schedule(spec string, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		metrics.SweepRuns.WithLabelValues("schedule").Inc()
		if _, err := s.Run(ctx); err != nil {
			s.logger.Error("scheduled sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("add sweep schedule %q: %w", spec, err)
	}
	return c, nil
}
