package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/checkin"
	"classattend/internal/signedcode"
)

type checkInRequest struct {
	SessionID         string              `json:"sessionId"`
	Method            string              `json:"method"`
	Image             string              `json:"image"`
	CodePayload       *signedcode.Payload `json:"codePayload"`
	Latitude          *float64            `json:"latitude"`
	Longitude         *float64            `json:"longitude"`
	Accuracy          *float64            `json:"accuracy"`
	IsTimeoutFallback bool                `json:"isTimeoutFallback"`
}

type checkInResponse struct {
	Success          bool              `json:"success"`
	RecordID         string            `json:"recordId,omitempty"`
	Status           attendance.Status `json:"status,omitempty"`
	IsLate           bool              `json:"isLate"`
	Distance         *float64          `json:"distance,omitempty"`
	AllowedRadius    *float64          `json:"allowedRadius,omitempty"`
	Room             string            `json:"room,omitempty"`
	AlreadyCheckedIn bool              `json:"alreadyCheckedIn,omitempty"`
	PendingReview    bool              `json:"pendingReview,omitempty"`
}

// CheckIn records the caller's attendance.
// POST /v1/checkins
func (h *Handler) CheckIn(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var body checkInRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c, err)
		return
	}
	image, err := decodeImage("image", body.Image)
	if err != nil {
		h.fail(c, err)
		return
	}

	out, err := h.checkins.CheckIn(c.Request.Context(), checkin.Request{
		SessionID:         body.SessionID,
		MemberID:          claims.Subject,
		Method:            attendance.Method(body.Method),
		Image:             image,
		Code:              body.CodePayload,
		Latitude:          body.Latitude,
		Longitude:         body.Longitude,
		Accuracy:          body.Accuracy,
		IsTimeoutFallback: body.IsTimeoutFallback,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := checkInResponse{
		Success:          true,
		Status:           out.Status,
		IsLate:           out.Late,
		Distance:         out.Distance,
		AllowedRadius:    out.AllowedRadius,
		Room:             out.Room,
		AlreadyCheckedIn: out.Kind == checkin.AlreadyRecorded,
		PendingReview:    out.Kind == checkin.AcceptedPendingReview,
	}
	if out.Record != nil {
		resp.RecordID = out.Record.ID
	}
	c.JSON(http.StatusOK, resp)
}
