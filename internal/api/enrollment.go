package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/auth"
	"classattend/internal/enrollment"
)

type enrollmentRequest struct {
	Captures struct {
		Front string `json:"front"`
		Left  string `json:"left"`
		Right string `json:"right"`
		Up    string `json:"up"`
		Blink string `json:"blink"`
	} `json:"captures"`
}

// Enroll registers the caller's face from five captures.
// POST /v1/enrollment
func (h *Handler) Enroll(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var body enrollmentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c, err)
		return
	}

	var caps enrollment.Captures
	for _, f := range []struct {
		field string
		in    string
		out   *[]byte
	}{
		{"captures.front", body.Captures.Front, &caps.Front},
		{"captures.left", body.Captures.Left, &caps.Left},
		{"captures.right", body.Captures.Right, &caps.Right},
		{"captures.up", body.Captures.Up, &caps.Up},
		{"captures.blink", body.Captures.Blink, &caps.Blink},
	} {
		b, err := decodeImage(f.field, f.in)
		if err != nil {
			h.fail(c, err)
			return
		}
		*f.out = b
	}

	profile, err := h.enrollment.Register(c.Request.Context(), claims.Subject, caps)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"qualityScore": profile.QualityScore,
		"photoUrl":     profile.PhotoURL,
	})
}
