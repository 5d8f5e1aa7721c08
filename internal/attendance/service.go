package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"classattend/internal/geo"
)

// Service coordinates owner-side operations: starting sessions, moving the
// class anchor, and audited manual overrides.
type Service struct {
	repo          *Repository
	logger        *zap.Logger
	loc           *time.Location
	defaultRadius float64
	now           func() time.Time
}

// NewService creates a service backed by a repository. Session dates and
// start times are interpreted in loc.
func NewService(repo *Repository, loc *time.Location, defaultRadius float64, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if defaultRadius <= 0 {
		defaultRadius = 50
	}
	return &Service{
		repo:          repo,
		logger:        logger,
		loc:           loc,
		defaultRadius: defaultRadius,
		now:           time.Now,
	}
}

// StartSessionRequest opens a session for a class starting now.
type StartSessionRequest struct {
	ClassID         string
	ActorID         string
	WindowMinutes   int
	DurationMinutes int
	// Owner's current position; when present it becomes the class anchor.
	Latitude  *float64
	Longitude *float64
}

// StartSession creates an active session for the class.
func (s *Service) StartSession(ctx context.Context, req StartSessionRequest) (Session, error) {
	class, err := s.ownedClass(ctx, req.ClassID, req.ActorID)
	if err != nil {
		return Session{}, err
	}
	if req.WindowMinutes <= 0 {
		return Session{}, &ValidationError{Field: "windowMinutes", Message: "must be positive"}
	}
	if req.DurationMinutes < req.WindowMinutes {
		return Session{}, &ValidationError{Field: "durationMinutes", Message: "must be at least the window length"}
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return Session{}, &ValidationError{Field: "location", Message: "latitude and longitude must be sent together"}
	}
	if req.Latitude != nil {
		radius := class.RadiusMeters
		if radius <= 0 {
			radius = s.defaultRadius
		}
		if err := s.setLocation(ctx, class.ID, *req.Latitude, *req.Longitude, radius); err != nil {
			return Session{}, err
		}
	}

	now := s.now().In(s.loc)
	sess, err := s.repo.CreateSession(ctx, Session{
		ClassID:         class.ID,
		Date:            now.Format(DateLayout),
		StartTime:       now.Format(TimeLayout),
		WindowMinutes:   req.WindowMinutes,
		DurationMinutes: req.DurationMinutes,
		IsActive:        true,
		CreatedAt:       now.UTC(),
	})
	if err != nil {
		s.logger.Error("start session failed", zap.String("class_id", class.ID), zap.Error(err))
		return Session{}, err
	}
	s.logger.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("class_id", class.ID),
		zap.Int("window_minutes", sess.WindowMinutes),
		zap.Int("duration_minutes", sess.DurationMinutes),
	)
	return sess, nil
}

// UpdateLocation moves the class anchor. A nil radius keeps the current one.
func (s *Service) UpdateLocation(ctx context.Context, actorID, classID string, lat, lon float64, radius *float64) error {
	class, err := s.ownedClass(ctx, classID, actorID)
	if err != nil {
		return err
	}
	r := class.RadiusMeters
	if radius != nil {
		if *radius <= 0 {
			return &ValidationError{Field: "radiusMeters", Message: "must be positive"}
		}
		r = *radius
	}
	if r <= 0 {
		r = s.defaultRadius
	}
	return s.setLocation(ctx, class.ID, lat, lon, r)
}

func (s *Service) setLocation(ctx context.Context, classID string, lat, lon, radius float64) error {
	if err := geo.Validate(lat, lon); err != nil {
		return &ValidationError{Field: "location", Message: err.Error()}
	}
	if err := s.repo.UpdateClassLocation(ctx, classID, lat, lon, radius); err != nil {
		return err
	}
	s.logger.Info("class location updated", zap.String("class_id", classID), zap.Float64("radius_meters", radius))
	return nil
}

// Override changes or creates a record outside the automatic pipeline. The
// window policy does not apply; the audit requirement always does.
func (s *Service) Override(ctx context.Context, o Override) (Record, AuditEntry, error) {
	o.Reason = strings.TrimSpace(o.Reason)
	if o.Reason == "" {
		return Record{}, AuditEntry{}, &ValidationError{Field: "reason", Message: "a reason is required"}
	}
	if !o.Status.Valid() {
		return Record{}, AuditEntry{}, &ValidationError{Field: "status", Message: "must be present, late or absent"}
	}
	if o.MemberID == "" {
		return Record{}, AuditEntry{}, &ValidationError{Field: "memberId", Message: "required"}
	}
	sess, _, err := s.AuthorizeOwner(ctx, o.SessionID, o.ActorID)
	if err != nil {
		return Record{}, AuditEntry{}, err
	}
	member, err := s.repo.IsMember(ctx, sess.ClassID, o.MemberID)
	if err != nil {
		return Record{}, AuditEntry{}, err
	}
	if !member {
		return Record{}, AuditEntry{}, ErrNotEnrolled
	}

	rec, entry, err := s.repo.ApplyOverride(ctx, *sess, o, s.now().UTC())
	if errors.Is(err, ErrAlreadyRecorded) {
		// Lost a race with a check-in; the row exists now, so update it.
		rec, entry, err = s.repo.ApplyOverride(ctx, *sess, o, s.now().UTC())
	}
	if err != nil {
		s.logger.Error("manual override failed",
			zap.String("session_id", o.SessionID), zap.String("member_id", o.MemberID), zap.Error(err))
		return Record{}, AuditEntry{}, err
	}
	s.logger.Info("manual override applied",
		zap.String("record_id", rec.ID),
		zap.String("actor_id", o.ActorID),
		zap.String("new_status", string(o.Status)),
	)
	return rec, entry, nil
}

// AuthorizeOwner loads a session and confirms actorID owns its class.
func (s *Service) AuthorizeOwner(ctx context.Context, sessionID, actorID string) (*Session, *Class, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, ErrSessionNotFound
	}
	class, err := s.ownedClass(ctx, sess.ClassID, actorID)
	if err != nil {
		return nil, nil, err
	}
	return sess, class, nil
}

// Records lists a session's records for its owner.
func (s *Service) Records(ctx context.Context, sessionID, actorID string) ([]Record, error) {
	if _, _, err := s.AuthorizeOwner(ctx, sessionID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListRecords(ctx, sessionID)
}

// Audit lists the audit trail of a record for the owner of its session.
func (s *Service) Audit(ctx context.Context, recordID, actorID string) ([]AuditEntry, error) {
	rec, err := s.repo.GetRecordByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	if _, _, err := s.AuthorizeOwner(ctx, rec.SessionID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListAudit(ctx, recordID)
}

func (s *Service) ownedClass(ctx context.Context, classID, actorID string) (*Class, error) {
	class, err := s.repo.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class == nil {
		return nil, ErrClassNotFound
	}
	if class.OwnerID != actorID {
		return nil, &AuthorizationError{Reason: "only the class owner may do this"}
	}
	return class, nil
}
