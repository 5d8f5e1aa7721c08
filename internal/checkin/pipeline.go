// Package checkin turns one member submission into at most one attendance
// record. Every attempt re-evaluates the session window, then runs the
// verification strategy for the chosen method.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/enrollment"
	"classattend/internal/geo"
	"classattend/internal/metrics"
	"classattend/internal/signedcode"
	"classattend/internal/vision"
	"classattend/internal/window"
)

// MinUncertainConfidence is the confidence an "uncertain" face comparison
// needs to be accepted. "likely_same" is accepted at any confidence.
const MinUncertainConfidence = 70

// Request is one check-in attempt. MemberID comes from the authenticated
// caller, never from the client body.
type Request struct {
	SessionID         string              `validate:"required"`
	MemberID          string              `validate:"required"`
	Method            attendance.Method   `validate:"required,oneof=face code proximity"`
	Image             []byte              `validate:"-"`
	Code              *signedcode.Payload `validate:"-"`
	Latitude          *float64            `validate:"omitempty,latitude"`
	Longitude         *float64            `validate:"omitempty,longitude"`
	Accuracy          *float64            `validate:"omitempty,gte=0"`
	IsTimeoutFallback bool
}

// Kind distinguishes successful outcomes.
type Kind string

const (
	Accepted              Kind = "accepted"
	AcceptedPendingReview Kind = "accepted_pending_review"
	AlreadyRecorded       Kind = "already_recorded"
)

// Outcome is a successful check-in. Failures are returned as errors from
// the attendance error taxonomy.
type Outcome struct {
	Kind          Kind
	Record        *attendance.Record
	Status        attendance.Status
	Late          bool
	Distance      *float64
	AllowedRadius *float64
	Room          string
}

// Profiles looks up enrollment profiles.
type Profiles interface {
	Get(ctx context.Context, memberID string) (*enrollment.Profile, error)
}

// Pipeline runs check-ins.
type Pipeline struct {
	records       *attendance.Repository
	profiles      Profiles
	oracle        vision.Oracle
	codes         *signedcode.Channel
	validate      *validator.Validate
	loc           *time.Location
	defaultRadius float64
	logger        *zap.Logger
	now           func() time.Time
}

// New creates a pipeline.
func New(records *attendance.Repository, profiles Profiles, oracle vision.Oracle, codes *signedcode.Channel,
	loc *time.Location, defaultRadius float64, logger *zap.Logger) *Pipeline {
	if loc == nil {
		loc = time.UTC
	}
	if defaultRadius <= 0 {
		defaultRadius = 50
	}
	return &Pipeline{
		records:       records,
		profiles:      profiles,
		oracle:        oracle,
		codes:         codes,
		validate:      validator.New(),
		loc:           loc,
		defaultRadius: defaultRadius,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock replaces the time source and returns p.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// verdict is what a verification strategy contributes to the record.
type verdict struct {
	score         *float64
	distance      *float64
	allowedRadius *float64
	room          string
	pendingReview bool
}

// CheckIn validates the attempt and records attendance.
func (p *Pipeline) CheckIn(ctx context.Context, req Request) (Outcome, error) {
	out, err := p.checkIn(ctx, req)
	label := string(out.Kind)
	if err != nil {
		label = failureLabel(err)
		if errors.Is(err, attendance.ErrServiceUnavailable) {
			p.logger.Warn("check-in failed closed, vision service unavailable",
				zap.String("session_id", req.SessionID), zap.String("member_id", req.MemberID), zap.Error(err))
		}
	}
	metrics.CheckIns.WithLabelValues(string(req.Method), label).Inc()
	return out, err
}

func (p *Pipeline) checkIn(ctx context.Context, req Request) (Outcome, error) {
	if err := p.validate.Struct(req); err != nil {
		return Outcome{}, validationError(err)
	}
	now := p.now()

	sess, err := p.records.GetSession(ctx, req.SessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return Outcome{}, attendance.ErrSessionNotFound
	}
	sched, err := sess.Schedule(p.loc)
	if err != nil {
		return Outcome{}, err
	}
	st := window.Evaluate(sched, now)
	if !st.Open {
		return Outcome{}, &attendance.WindowClosedError{Reason: st.Reason}
	}

	member, err := p.records.IsMember(ctx, sess.ClassID, req.MemberID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check roster: %w", err)
	}
	if !member {
		return Outcome{}, attendance.ErrNotEnrolled
	}

	if existing, err := p.records.GetRecord(ctx, sess.ID, req.MemberID); err != nil {
		return Outcome{}, fmt.Errorf("load record: %w", err)
	} else if existing != nil {
		return alreadyRecorded(existing), nil
	}

	var v verdict
	switch req.Method {
	case attendance.MethodFace:
		v, err = p.verifyFace(ctx, *sess, req)
	case attendance.MethodCode:
		v, st, err = p.verifyCode(ctx, *sess, req, st)
	case attendance.MethodProximity:
		v, err = p.verifyProximity(ctx, *sess, req)
	}
	if err != nil {
		return Outcome{}, err
	}

	rec := attendance.Record{
		SessionID:         sess.ID,
		ClassID:           sess.ClassID,
		MemberID:          req.MemberID,
		Method:            req.Method,
		Status:            attendance.StatusPresent,
		VerificationScore: v.score,
		LateSubmission:    st.Late,
		RecordedAt:        now.UTC(),
	}
	if st.Late {
		rec.Status = attendance.StatusLate
	}
	if v.pendingReview {
		review := attendance.ReviewUnverified
		rec.ReviewStatus = &review
	}

	// The unique constraint decides concurrent attempts; losing the race
	// is the same outcome as finding the record above.
	saved, err := p.records.InsertRecord(ctx, rec)
	if errors.Is(err, attendance.ErrAlreadyRecorded) {
		existing, gerr := p.records.GetRecord(ctx, sess.ID, req.MemberID)
		if gerr != nil || existing == nil {
			return Outcome{Kind: AlreadyRecorded}, nil
		}
		return alreadyRecorded(existing), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	kind := Accepted
	if v.pendingReview {
		kind = AcceptedPendingReview
	}
	p.logger.Info("check-in recorded",
		zap.String("session_id", sess.ID),
		zap.String("member_id", req.MemberID),
		zap.String("method", string(req.Method)),
		zap.String("status", string(saved.Status)),
		zap.Bool("pending_review", v.pendingReview),
	)
	return Outcome{
		Kind:          kind,
		Record:        &saved,
		Status:        saved.Status,
		Late:          saved.LateSubmission,
		Distance:      v.distance,
		AllowedRadius: v.allowedRadius,
		Room:          v.room,
	}, nil
}

func (p *Pipeline) verifyFace(ctx context.Context, sess attendance.Session, req Request) (verdict, error) {
	if len(req.Image) == 0 {
		return verdict{}, &attendance.ValidationError{Field: "image", Message: "required for face check-in"}
	}
	lat, lon, err := coordinates(req)
	if err != nil {
		return verdict{}, err
	}
	class, err := p.class(ctx, sess.ClassID)
	if err != nil {
		return verdict{}, err
	}
	if !class.HasAnchor() {
		return verdict{}, attendance.ErrLocationNotConfigured
	}
	v, err := p.geofence(class, lat, lon)
	if err != nil {
		return verdict{}, err
	}

	profile, err := p.profiles.Get(ctx, req.MemberID)
	if err != nil {
		return verdict{}, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return verdict{}, attendance.ErrNotRegistered
	}

	cmp, err := p.oracle.CompareFaces(ctx, req.Image, profile.Descriptor)
	if err != nil {
		return verdict{}, fmt.Errorf("%w: %v", attendance.ErrServiceUnavailable, err)
	}
	if cmp.Status == "invalid" {
		reason := cmp.Reason
		if reason == "" {
			reason = "no usable face in the image"
		}
		return verdict{}, &attendance.RejectedError{Reason: reason}
	}
	if !faceAccepted(cmp) {
		return verdict{}, &attendance.RejectedError{Reason: "face does not match the registered profile"}
	}
	score := cmp.ConfidenceScore
	v.score = &score
	return v, nil
}

func faceAccepted(cmp vision.Comparison) bool {
	switch cmp.Similarity {
	case vision.LikelySame:
		return true
	case vision.SimilarityUnsure:
		return cmp.ConfidenceScore >= MinUncertainConfidence
	default:
		return false
	}
}

func (p *Pipeline) verifyCode(ctx context.Context, sess attendance.Session, req Request, st window.State) (verdict, window.State, error) {
	if req.Code == nil {
		return verdict{}, st, &attendance.ValidationError{Field: "codePayload", Message: "required for code check-in"}
	}
	codeState, err := p.codes.Verify(ctx, sess, *req.Code)
	if err != nil {
		return verdict{}, st, err
	}
	return verdict{}, codeState, nil
}

func (p *Pipeline) verifyProximity(ctx context.Context, sess attendance.Session, req Request) (verdict, error) {
	class, err := p.class(ctx, sess.ClassID)
	if err != nil {
		return verdict{}, err
	}
	if req.IsTimeoutFallback {
		// The device never produced a fix; accept but flag for review.
		return verdict{room: class.Room, pendingReview: true}, nil
	}

	lat, lon, err := coordinates(req)
	if err != nil {
		return verdict{}, err
	}
	if !class.HasAnchor() {
		score := accuracyScore(req.Accuracy)
		return verdict{score: &score, room: class.Room}, nil
	}
	v, err := p.geofence(class, lat, lon)
	if err != nil {
		return verdict{}, err
	}
	score := 100 * (1 - *v.distance / *v.allowedRadius)
	if score < 0 {
		score = 0
	}
	v.score = &score
	return v, nil
}

// geofence rejects positions outside the class radius. It reads the anchor
// as committed right now so a mid-session move applies immediately.
func (p *Pipeline) geofence(class *attendance.Class, lat, lon float64) (verdict, error) {
	radius := class.RadiusMeters
	if radius <= 0 {
		radius = p.defaultRadius
	}
	d := geo.DistanceMeters(lat, lon, *class.Latitude, *class.Longitude)
	if !geo.Within(d, radius) {
		return verdict{}, &attendance.OutOfRangeError{Distance: d, AllowedRadius: radius, Room: class.Room}
	}
	return verdict{distance: &d, allowedRadius: &radius, room: class.Room}, nil
}

func (p *Pipeline) class(ctx context.Context, classID string) (*attendance.Class, error) {
	class, err := p.records.GetClass(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("load class: %w", err)
	}
	if class == nil {
		return nil, attendance.ErrClassNotFound
	}
	return class, nil
}

// accuracyScore turns a reported GPS accuracy radius into a coarse trust
// score. Smaller radius means a better fix.
func accuracyScore(accuracy *float64) float64 {
	if accuracy == nil {
		return 50
	}
	switch a := *accuracy; {
	case a <= 20:
		return 90
	case a <= 50:
		return 75
	case a <= 100:
		return 60
	default:
		return 40
	}
}

func coordinates(req Request) (float64, float64, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return 0, 0, &attendance.ValidationError{Field: "location", Message: "latitude and longitude are required"}
	}
	if err := geo.Validate(*req.Latitude, *req.Longitude); err != nil {
		return 0, 0, &attendance.ValidationError{Field: "location", Message: err.Error()}
	}
	return *req.Latitude, *req.Longitude, nil
}

func alreadyRecorded(rec *attendance.Record) Outcome {
	return Outcome{
		Kind:   AlreadyRecorded,
		Record: rec,
		Status: rec.Status,
		Late:   rec.LateSubmission,
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &attendance.ValidationError{Field: lowerFirst(fe.Field()), Message: "failed " + fe.Tag() + " check"}
	}
	return &attendance.ValidationError{Message: err.Error()}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

func failureLabel(err error) string {
	var (
		ve *attendance.ValidationError
		wc *attendance.WindowClosedError
		or *attendance.OutOfRangeError
		re *attendance.RejectedError
	)
	switch {
	case errors.As(err, &ve):
		return "invalid"
	case errors.As(err, &wc):
		return "window_closed"
	case errors.As(err, &or):
		return "out_of_range"
	case errors.As(err, &re):
		return "rejected"
	case errors.Is(err, attendance.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, attendance.ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, attendance.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, attendance.ErrSessionNotFound):
		return "not_found"
	default:
		return "error"
	}
}
