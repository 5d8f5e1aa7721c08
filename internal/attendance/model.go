package attendance

import (
	"fmt"
	"time"

	"classattend/internal/window"
)

// Method is how an attendance record came to exist.
type Method string

const (
	MethodFace      Method = "face"
	MethodCode      Method = "code"
	MethodProximity Method = "proximity"
	MethodManual    Method = "manual"
	MethodAuto      Method = "auto"
)

// Status is the attendance outcome for a member in a session.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Valid returns true when the status is a supported value.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	default:
		return false
	}
}

// ReviewUnverified marks a record accepted without location proof.
const ReviewUnverified = "unverified"

// Date and time layouts for sessions.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Session is one bounded attendance-taking period for a class meeting.
type Session struct {
	ID              string     `json:"id"`
	ClassID         string     `json:"class_id"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	WindowMinutes   int        `json:"window_minutes"`
	DurationMinutes int        `json:"duration_minutes"`
	IsActive        bool       `json:"is_active"`
	ClosedReason    *string    `json:"closed_reason,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Start combines the calendar date and wall-clock start time in loc.
func (s Session) Start(loc *time.Location) (time.Time, error) {
	start, err := time.ParseInLocation(DateLayout+" "+TimeLayout, s.Date+" "+s.StartTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("session %s: bad start %q %q: %w", s.ID, s.Date, s.StartTime, err)
	}
	return start, nil
}

// Schedule returns the window-policy view of the session.
func (s Session) Schedule(loc *time.Location) (window.Schedule, error) {
	start, err := s.Start(loc)
	if err != nil {
		return window.Schedule{}, err
	}
	return window.Schedule{
		Start:    start,
		Window:   time.Duration(s.WindowMinutes) * time.Minute,
		Duration: time.Duration(s.DurationMinutes) * time.Minute,
		Active:   s.IsActive,
	}, nil
}

// Class carries the owner and the fixed geographic anchor of a class.
// Latitude/Longitude are nil until the owner sets a location.
type Class struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OwnerID      string    `json:"owner_id"`
	Room         string    `json:"room"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	RadiusMeters float64   `json:"radius_meters"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasAnchor reports whether a location has been configured.
func (c Class) HasAnchor() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Record is one attendance record. At most one exists per (session, member).
type Record struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	ClassID           string    `json:"class_id"`
	MemberID          string    `json:"member_id"`
	Method            Method    `json:"method"`
	Status            Status    `json:"status"`
	VerificationScore *float64  `json:"verification_score,omitempty"`
	LateSubmission    bool      `json:"late_submission"`
	ReviewStatus      *string   `json:"review_status,omitempty"`
	ManualReason      *string   `json:"manual_reason,omitempty"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// AuditEntry is an immutable record of one manual status change.
type AuditEntry struct {
	ID             string    `json:"id"`
	RecordID       string    `json:"record_id"`
	PreviousStatus *Status   `json:"previous_status,omitempty"`
	NewStatus      Status    `json:"new_status"`
	Reason         string    `json:"reason"`
	ActorID        string    `json:"actor_id"`
	CreatedAt      time.Time `json:"created_at"`
}
