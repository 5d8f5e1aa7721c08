// Package vision talks to the external image-understanding service used
// for liveness, pose and similarity judgments. Its answers are best-effort
// visual similarity, not identity proof.
package vision

import (
	"context"
	"errors"
)

// Pose is the angle a capture is expected to show.
type Pose string

const (
	PoseFront Pose = "front"
	PoseLeft  Pose = "left"
	PoseRight Pose = "right"
	PoseUp    Pose = "up"
	PoseBlink Pose = "blink"
)

// Liveness verdicts.
const (
	Live      = "live"
	Spoof     = "spoof"
	Uncertain = "uncertain"
)

// Similarity verdicts.
const (
	LikelySame       = "likely_same"
	SimilarityUnsure = "uncertain"
	LikelyDifferent  = "likely_different"
)

var (
	// ErrBusy means the oracle kept throttling after every retry. It says
	// nothing about the face being checked.
	ErrBusy = errors.New("vision service busy")
	// ErrUnavailable covers transport failures and unexpected responses.
	ErrUnavailable = errors.New("vision service unavailable")
)

// Analysis is the result of analyzing one capture.
type Analysis struct {
	FaceCount    int     `json:"face_count"`
	Liveness     string  `json:"liveness"`
	QualityScore float64 `json:"quality_score"`
	Descriptor   *string `json:"descriptor"`
	PoseVerified bool    `json:"pose_verified"`
	Status       string  `json:"status"`
	Reason       string  `json:"reason"`
}

// Comparison is the result of comparing a capture with a stored descriptor.
type Comparison struct {
	Status          string  `json:"status"`
	Similarity      string  `json:"similarity"`
	ConfidenceScore float64 `json:"confidence_score"`
	Reason          string  `json:"reason"`
}

// Candidate is another member's stored descriptor.
type Candidate struct {
	MemberID   string `json:"member_id"`
	Descriptor string `json:"descriptor"`
}

// DuplicateResult reports the closest match among candidates.
type DuplicateResult struct {
	IsDuplicate       bool    `json:"is_duplicate"`
	MatchedMemberID   string  `json:"matched_member_id,omitempty"`
	HighestSimilarity float64 `json:"highest_similarity"`
}

// Oracle is the contract the engine needs from the vision service.
type Oracle interface {
	AnalyzeFace(ctx context.Context, image []byte, pose Pose) (Analysis, error)
	CompareFaces(ctx context.Context, image []byte, descriptor string) (Comparison, error)
	FindDuplicate(ctx context.Context, descriptor string, candidates []Candidate) (DuplicateResult, error)
}
