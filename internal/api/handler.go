// Package api exposes the attendance engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/checkin"
	"classattend/internal/enrollment"
	"classattend/internal/queue"
	"classattend/internal/signedcode"
	"classattend/internal/sweeper"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services the handlers call.
type Deps struct {
	Attendance *attendance.Service
	CheckIns   *checkin.Pipeline
	Enrollment *enrollment.Service
	Codes      *signedcode.Channel
	Sweeper    *sweeper.Sweeper
	Jobs       queue.Queue
	Health     map[string]HealthCheck
	Logger     *zap.Logger
}

// Handler serves every route.
type Handler struct {
	attendance *attendance.Service
	checkins   *checkin.Pipeline
	enrollment *enrollment.Service
	codes      *signedcode.Channel
	sweeper    *sweeper.Sweeper
	jobs       queue.Queue
	health     map[string]HealthCheck
	logger     *zap.Logger
}

// New creates a Handler.
func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		attendance: d.Attendance,
		checkins:   d.CheckIns,
		enrollment: d.Enrollment,
		codes:      d.Codes,
		sweeper:    d.Sweeper,
		jobs:       d.Jobs,
		health:     d.Health,
		logger:     logger,
	}
}

// Healthz reports each dependency and answers 503 when any is down.
// GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
