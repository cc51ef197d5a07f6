package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ziggylab/internal/model"
	"ziggylab/internal/store"
)

// handleStartRun starts a new engine run from the posted parameters and
// records the run's start in the event-log store.
func (s *Server) handleStartRun(c *gin.Context) {
	var params model.RunParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run parameters: " + err.Error()})
		return
	}
	params.Seed = resolveSeed(params.Seed)

	runID, err := s.engine.Start(params)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if s.store != nil {
		if err := s.store.RecordRunStart(runID, params, time.Now()); err != nil {
			s.log.Warn().Err(err).Str("run_id", runID).Msg("failed to record run start")
		}
	}

	c.JSON(http.StatusOK, gin.H{"run_id": runID})
}

func resolveSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return int64(uuid.New().ID())
}

// handleStopRun stops the active run and records its summary.
func (s *Server) handleStopRun(c *gin.Context) {
	summary := s.engine.Stop()

	if s.store != nil && summary.RunID != "" {
		if err := s.store.RecordRunStop(summary.RunID, summary, time.Now()); err != nil {
			s.log.Warn().Err(err).Str("run_id", summary.RunID).Msg("failed to record run stop")
		}
	}

	c.JSON(http.StatusOK, summary)
}

// handleRunStatus reports the active run's live status snapshot.
func (s *Server) handleRunStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetStatus())
}

// handleListRuns returns recent run-history rows, newest first.
func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// handleGetRun returns one run's history row by id.
func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
		return
	}

	rec, err := s.store.GetRun(c.Param("id"))
	if err == store.ErrRunNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleGuardrailState reports the guardrail's current risk snapshot.
func (s *Server) handleGuardrailState(c *gin.Context) {
	c.JSON(http.StatusOK, s.guard.Stats())
}

// handleQualityStats reports venue-level execution-quality stats over a
// trailing window (hours query param, default 24).
func (s *Server) handleQualityStats(c *gin.Context) {
	hours, err := strconv.ParseFloat(c.DefaultQuery("hours", "24"), 64)
	if err != nil || hours <= 0 {
		hours = 24
	}
	c.JSON(http.StatusOK, gin.H{"venues": s.quality.GetVenuePerformance(hours)})
}

// handleBanditAllocations reports the bandit's last computed allocation
// weight per theory.
func (s *Server) handleBanditAllocations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"allocations": s.alloc.GetAllocations()})
}

// handleSaveSnapshot triggers an out-of-band durability save of every
// registered component, for operator-initiated checkpoints outside the
// periodic snapshot loop's own cadence.
func (s *Server) handleSaveSnapshot(c *gin.Context) {
	if s.durMgr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "durability manager is not configured"})
		return
	}
	report := s.durMgr.SaveAll()
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusInternalServerError
	}
	c.JSON(status, report)
}

// handleRestoreSnapshot restores every registered component from its
// last saved snapshot. Only meaningful before a run is started.
func (s *Server) handleRestoreSnapshot(c *gin.Context) {
	if s.durMgr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "durability manager is not configured"})
		return
	}
	report := s.durMgr.RestoreAll()
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusInternalServerError
	}
	c.JSON(status, report)
}
