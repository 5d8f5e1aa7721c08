// Package enrollment registers a member's face from five guided captures
// and refuses registrations that look like an already enrolled person.
package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"classattend/internal/attendance"
	"classattend/internal/cloudinary"
	"classattend/internal/metrics"
	"classattend/internal/vision"
)

const (
	// MinQuality is the lowest acceptable capture quality score.
	MinQuality = 60
	// DuplicateThreshold is the similarity at which a new registration is
	// treated as someone already enrolled.
	DuplicateThreshold = 85
)

// Captures are the five still images of a registration.
type Captures struct {
	Front []byte
	Left  []byte
	Right []byte
	Up    []byte
	Blink []byte
}

type capture struct {
	pose  vision.Pose
	image []byte
}

func (c Captures) list() []capture {
	return []capture{
		{vision.PoseFront, c.Front},
		{vision.PoseLeft, c.Left},
		{vision.PoseRight, c.Right},
		{vision.PoseUp, c.Up},
		{vision.PoseBlink, c.Blink},
	}
}

// CaptureError lists every capture that failed analysis. Error returns the
// first one.
type CaptureError struct {
	Reasons []string
}

func (e *CaptureError) Error() string {
	if len(e.Reasons) == 0 {
		return "registration rejected"
	}
	return e.Reasons[0]
}

// Uploader stores the reference photo. *cloudinary.Client satisfies it.
type Uploader interface {
	UploadBytes(ctx context.Context, data []byte, publicID string) (*cloudinary.UploadResult, error)
}

// composite is the stored descriptor: the four directional analyses. The
// blink capture only proves liveness.
type composite struct {
	Front string `json:"front"`
	Left  string `json:"left"`
	Right string `json:"right"`
	Up    string `json:"up"`
}

// Service runs registrations.
type Service struct {
	repo        *Repository
	oracle      vision.Oracle
	uploader    Uploader
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates the service. uploader may be nil.
func NewService(repo *Repository, oracle vision.Oracle, uploader Uploader, concurrency int, logger *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		repo:        repo,
		oracle:      oracle,
		uploader:    uploader,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Register analyzes all captures and stores the member's profile. Nothing
// is written unless every capture passes and no other member matches.
func (s *Service) Register(ctx context.Context, memberID string, caps Captures) (Profile, error) {
	list := caps.list()
	for _, c := range list {
		if len(c.image) == 0 {
			return Profile{}, &attendance.ValidationError{Field: "captures." + string(c.pose), Message: "required"}
		}
	}

	analyses := make([]vision.Analysis, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range list {
		i, c := i, c
		g.Go(func() error {
			a, err := s.oracle.AnalyzeFace(gctx, c.image, c.pose)
			if err != nil {
				return fmt.Errorf("analyze %s capture: %w", c.pose, err)
			}
			analyses[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.Enrollments.WithLabelValues("unavailable").Inc()
		s.logger.Warn("enrollment analysis failed", zap.String("member_id", memberID), zap.Error(err))
		return Profile{}, fmt.Errorf("%w: %v", attendance.ErrServiceUnavailable, err)
	}

	var reasons []string
	total := 0.0
	for i, c := range list {
		if reason := checkCapture(c.pose, analyses[i]); reason != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", c.pose, reason))
		}
		total += analyses[i].QualityScore
	}
	if len(reasons) > 0 {
		metrics.Enrollments.WithLabelValues("rejected").Inc()
		s.logger.Info("enrollment rejected", zap.String("member_id", memberID), zap.Strings("reasons", reasons))
		return Profile{}, &CaptureError{Reasons: reasons}
	}

	desc, err := json.Marshal(composite{
		Front: *analyses[0].Descriptor,
		Left:  *analyses[1].Descriptor,
		Right: *analyses[2].Descriptor,
		Up:    *analyses[3].Descriptor,
	})
	if err != nil {
		return Profile{}, fmt.Errorf("encode descriptor: %w", err)
	}

	others, err := s.repo.ListOthers(ctx, memberID)
	if err != nil {
		return Profile{}, fmt.Errorf("load descriptors: %w", err)
	}
	dup, err := s.oracle.FindDuplicate(ctx, string(desc), others)
	if err != nil {
		metrics.Enrollments.WithLabelValues("unavailable").Inc()
		return Profile{}, fmt.Errorf("%w: duplicate search: %v", attendance.ErrServiceUnavailable, err)
	}
	if dup.HighestSimilarity >= DuplicateThreshold {
		metrics.Enrollments.WithLabelValues("duplicate").Inc()
		s.logger.Warn("enrollment matches another member",
			zap.String("member_id", memberID),
			zap.String("matched_member_id", dup.MatchedMemberID),
			zap.Float64("similarity", dup.HighestSimilarity),
		)
		return Profile{}, attendance.ErrDuplicateIdentity
	}

	now := s.now().UTC()
	p := Profile{
		MemberID:     memberID,
		Descriptor:   string(desc),
		QualityScore: total / float64(len(list)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing, err := s.repo.Get(ctx, memberID); err == nil && existing != nil {
		p.CreatedAt = existing.CreatedAt
	}
	p.PhotoURL = s.uploadPhoto(ctx, memberID, caps.Front)

	if err := s.repo.Upsert(ctx, p); err != nil {
		return Profile{}, err
	}
	metrics.Enrollments.WithLabelValues("accepted").Inc()
	s.logger.Info("member enrolled", zap.String("member_id", memberID), zap.Float64("quality_score", p.QualityScore))
	return p, nil
}

// Profile returns a member's stored profile or nil.
func (s *Service) Profile(ctx context.Context, memberID string) (*Profile, error) {
	return s.repo.Get(ctx, memberID)
}

// uploadPhoto is best-effort; a failed upload leaves the URL empty.
func (s *Service) uploadPhoto(ctx context.Context, memberID string, image []byte) string {
	if s.uploader == nil {
		return ""
	}
	res, err := s.uploader.UploadBytes(ctx, image, "member-"+memberID)
	if err != nil {
		s.logger.Warn("reference photo upload failed", zap.String("member_id", memberID), zap.Error(err))
		return ""
	}
	return res.SecureURL
}

func checkCapture(pose vision.Pose, a vision.Analysis) string {
	switch {
	case a.Status == "failure":
		if a.Reason != "" {
			return a.Reason
		}
		return "analysis failed"
	case a.FaceCount == 0:
		return "no face detected"
	case a.FaceCount > 1:
		return "multiple faces detected"
	case a.Liveness == vision.Spoof:
		return "liveness check failed"
	case a.Liveness != vision.Live:
		return "liveness could not be confirmed"
	case a.QualityScore < MinQuality:
		return fmt.Sprintf("image quality too low (%.0f)", a.QualityScore)
	case !a.PoseVerified:
		return fmt.Sprintf("expected a %s pose", pose)
	case pose != vision.PoseBlink && (a.Descriptor == nil || *a.Descriptor == ""):
		return "no face descriptor returned"
	}
	return ""
}

// IsCaptureError reports whether err is a per-capture rejection.
func IsCaptureError(err error) (*CaptureError, bool) {
	var ce *CaptureError
	ok := errors.As(err, &ce)
	return ce, ok
}
