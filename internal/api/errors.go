package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/enrollment"
)

// fail maps the attendance error taxonomy to a status and JSON body.
// Throttling (503) is kept apart from a failed verification (422) so a
// client never tells a legitimate member they do not match.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		validation *attendance.ValidationError
		authz      *attendance.AuthorizationError
		closed     *attendance.WindowClosedError
		outOfRange *attendance.OutOfRangeError
		rejected   *attendance.RejectedError
	)
	if ce, ok := enrollment.IsCaptureError(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": ce.Error(), "allErrors": ce.Reasons})
		return
	}

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": validation.Error(), "field": validation.Field})
	case errors.As(err, &authz):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": authz.Error()})
	case errors.Is(err, attendance.ErrNotEnrolled), errors.Is(err, attendance.ErrNotRegistered):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": err.Error()})
	case errors.As(err, &closed):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": closed.Reason, "windowClosed": true})
	case errors.As(err, &outOfRange):
		c.JSON(http.StatusForbidden, gin.H{
			"success":       false,
			"error":         outOfRange.Error(),
			"distance":      outOfRange.Distance,
			"allowedRadius": outOfRange.AllowedRadius,
			"room":          outOfRange.Room,
		})
	case errors.As(err, &rejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": rejected.Error()})
	case errors.Is(err, attendance.ErrSessionNotFound),
		errors.Is(err, attendance.ErrClassNotFound),
		errors.Is(err, attendance.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, attendance.ErrDuplicateIdentity), errors.Is(err, attendance.ErrLocationNotConfigured):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, attendance.ErrServiceUnavailable):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": attendance.ErrServiceUnavailable.Error()})
	default:
		_ = c.Error(err)
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
	}
}

func badBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(field, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &attendance.ValidationError{Field: field, Message: "must be base64 encoded"}
	}
	return b, nil
}
