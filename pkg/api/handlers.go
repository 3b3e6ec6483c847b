package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dirgogoo/mdap/pkg/pipeline"
)

// transitionError maps state-machine rejections to 409 and everything
// else to 500.
func transitionError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, pipeline.ErrIllegalTransition) {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleStatus is a point-in-time poll of pipeline progress. Clients that
// want transitions pushed to them use /events instead.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Status())
}

// handleEvents streams state changes as server-sent events. The
// subscription starts with a snapshot of the current status so a client
// joining mid-run is not blind until the next transition.
func (s *Server) handleEvents(c *gin.Context) {
	if s.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event streaming is not enabled"})
		return
	}

	changes, unsubscribe := s.notifier.Subscribe()
	defer unsubscribe()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.SSEvent("status", s.orch.Status())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case change, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("state", change)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) handlePause(c *gin.Context) {
	if err := s.orch.Pause(); err != nil {
		transitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) handleResume(c *gin.Context) {
	if err := s.orch.Resume(); err != nil {
		transitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) handleCancel(c *gin.Context) {
	s.orch.Cancel()
	c.JSON(http.StatusAccepted, s.orch.Status())
}

func (s *Server) handleAwait(c *gin.Context) {
	if err := s.orch.AwaitDecision(); err != nil {
		transitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) handleDecision(c *gin.Context) {
	if err := s.orch.DecisionMade(); err != nil {
		transitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) handleHistory(c *gin.Context) {
	n := 0
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
			return
		}
		n = parsed
	}
	c.JSON(http.StatusOK, gin.H{
		"decisions": s.tracker.LastN(n),
		"totals":    s.tracker.Totals(),
	})
}

func (s *Server) handleDecisionsByPhase(c *gin.Context) {
	phase := c.Param("phase")
	c.JSON(http.StatusOK, gin.H{
		"phase":     phase,
		"decisions": s.tracker.ByPhase(phase),
	})
}

func (s *Server) handleExplain(c *gin.Context) {
	stepID := c.Param("step")
	decision, ok := s.tracker.ByStep(stepID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no decision recorded for step " + stepID})
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, s.resources.Snapshot())
}

// budgetRequest sets one budget kind on the live run.
type budgetRequest struct {
	Kind  string  `json:"kind" binding:"required"`
	Value float64 `json:"value" binding:"required"`
}

func (s *Server) handleBudget(c *gin.Context) {
	var req budgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.resources.SetBudget(req.Kind, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.resources.Snapshot())
}
