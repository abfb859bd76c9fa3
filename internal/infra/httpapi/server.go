// Package httpapi exposes the admin console surface over HTTP: cycle
// creation, rollout, the automation kill switch, manual overrides and stats.
// Authentication stays outside the core; deploy this behind a trusted
// boundary.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"event_waitlist_bot/internal/app"
	"event_waitlist_bot/internal/domain/waitlist"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cycles *app.CycleService
	reg    *app.RegistrationService
}

func NewServer(cycles *app.CycleService, reg *app.RegistrationService) *Server {
	return &Server{cycles: cycles, reg: reg}
}

// Router builds the gin engine with all admin routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	{
		api.POST("/cycles", s.createCycle)
		api.POST("/cycles/:id/open", s.openRegistration)
		api.POST("/cycles/:id/rollout", s.rollout)
		api.PUT("/cycles/:id/automation", s.setAutomation)
		api.POST("/cycles/:id/override", s.addOverride)
		api.POST("/cycles/:id/close", s.closeCycle)
		api.GET("/cycles/:id/stats", s.stats)
		api.PUT("/registrants/:id/class", s.setPriorityClass)
		api.POST("/registrants/:id/checkin", s.checkIn)
	}
	return r
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, waitlist.ErrCycleNotFound), errors.Is(err, waitlist.ErrRegistrantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, waitlist.ErrAlreadyRolledOut),
		errors.Is(err, waitlist.ErrDuplicateRegistration),
		errors.Is(err, waitlist.ErrInvalidTransition),
		errors.Is(err, waitlist.ErrCycleCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, waitlist.ErrPastCutoff), errors.Is(err, waitlist.ErrRegistrationClosed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, waitlist.ErrTransientContention):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type createCycleRequest struct {
	EventAt       time.Time       `json:"event_at" binding:"required"`
	WindowOpensAt time.Time       `json:"window_opens_at" binding:"required"`
	CutoffAt      time.Time       `json:"cutoff_at" binding:"required"`
	Capacity      int             `json:"capacity" binding:"required"`
	Timezone      string          `json:"timezone"`
	Venue         json.RawMessage `json:"venue" binding:"required"`
}

func (s *Server) createCycle(c *gin.Context) {
	var req createCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	venue, err := waitlist.ParseVenue(req.Venue)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cycle, err := s.cycles.CreateCycle(c.Request.Context(), app.CreateCycleParams{
		EventAt:       req.EventAt,
		WindowOpensAt: req.WindowOpensAt,
		CutoffAt:      req.CutoffAt,
		Capacity:      req.Capacity,
		Timezone:      req.Timezone,
		Venue:         venue,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cycle)
}

func (s *Server) openRegistration(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	cycle, err := s.cycles.OpenRegistration(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cycle)
}

func (s *Server) rollout(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	promoted, err := s.cycles.Rollout(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"promoted": len(promoted)})
}

type automationRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) setAutomation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cycles.SetAutomation(c.Request.Context(), id, *req.Enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

type overrideRequest struct {
	ChatID int64 `json:"chat_id" binding:"required"`
}

func (s *Server) addOverride(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reg, err := s.cycles.AddManualOverride(c.Request.Context(), id, req.ChatID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reg)
}

func (s *Server) closeCycle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.cycles.CloseCycle(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": waitlist.CycleCompleted})
}

func (s *Server) stats(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	stats, err := s.cycles.Stats(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type priorityClassRequest struct {
	Class waitlist.PriorityClass `json:"class" binding:"required"`
}

func (s *Server) setPriorityClass(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req priorityClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Class != waitlist.ClassNormal && req.Class != waitlist.ClassPriority {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown priority class %q", req.Class)})
		return
	}
	reg, err := s.cycles.SetPriorityClass(c.Request.Context(), id, req.Class)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

func (s *Server) checkIn(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	reg, err := s.reg.CheckIn(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}
