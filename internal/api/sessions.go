package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/metrics"
	"classattend/internal/sweeper"
)

type startSessionRequest struct {
	WindowMinutes   int      `json:"windowMinutes"`
	DurationMinutes int      `json:"durationMinutes"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
}

// StartSession opens a session for the class starting now.
// POST /v1/classes/:id/sessions
func (h *Handler) StartSession(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var body startSessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c, err)
		return
	}
	sess, err := h.attendance.StartSession(c.Request.Context(), attendance.StartSessionRequest{
		ClassID:         c.Param("id"),
		ActorID:         claims.Subject,
		WindowMinutes:   body.WindowMinutes,
		DurationMinutes: body.DurationMinutes,
		Latitude:        body.Latitude,
		Longitude:       body.Longitude,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "session": sess})
}

type locationRequest struct {
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMeters *float64 `json:"radiusMeters"`
}

// UpdateLocation moves the class anchor.
// PUT /v1/classes/:id/location
func (h *Handler) UpdateLocation(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var body locationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c, err)
		return
	}
	if body.Latitude == nil || body.Longitude == nil {
		h.fail(c, &attendance.ValidationError{Field: "location", Message: "latitude and longitude are required"})
		return
	}
	err := h.attendance.UpdateLocation(c.Request.Context(), claims.Subject, c.Param("id"),
		*body.Latitude, *body.Longitude, body.RadiusMeters)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// IssueCode rotates the session's live code and returns the signed payload
// for the owner's display.
// POST /v1/sessions/:id/code
func (h *Handler) IssueCode(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	sess, _, err := h.attendance.AuthorizeOwner(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	payload, err := h.codes.Issue(c.Request.Context(), *sess)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// EndSession queues the session for closing; the worker backfills
// absences.
// POST /v1/sessions/:id/end
func (h *Handler) EndSession(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	sess, _, err := h.attendance.AuthorizeOwner(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	msg, err := sweeper.NewEndSessionMessage(sess.ID, claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.jobs.Publish(c.Request.Context(), msg); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "sessionId": sess.ID})
}

// Records lists a session's attendance.
// GET /v1/sessions/:id/records
func (h *Handler) Records(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	records, err := h.attendance.Records(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "records": records})
}

type overrideRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Override sets a member's status by hand.
// POST /v1/sessions/:id/records/:memberId/override
func (h *Handler) Override(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var body overrideRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c, err)
		return
	}
	rec, entry, err := h.attendance.Override(c.Request.Context(), attendance.Override{
		SessionID: c.Param("id"),
		MemberID:  c.Param("memberId"),
		Status:    attendance.Status(body.Status),
		Reason:    body.Reason,
		ActorID:   claims.Subject,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "record": rec, "audit": entry})
}

// Audit lists the manual changes made to a record.
// GET /v1/records/:id/audit
func (h *Handler) Audit(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	entries, err := h.attendance.Audit(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []attendance.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entries": entries})
}

// Sweep runs the sweeper once.
// POST /v1/admin/sweep
func (h *Handler) Sweep(c *gin.Context) {
	metrics.SweepRuns.WithLabelValues("operator").Inc()
	res, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
