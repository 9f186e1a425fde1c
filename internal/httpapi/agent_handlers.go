package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cpravetz/agentset/internal/agent"
	"github.com/cpravetz/agentset/internal/agentset"
	"github.com/cpravetz/agentset/internal/models"
)

// Health handles GET /health (spec §6).
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "agentCount": s.set.Len()})
}

// Ready handles GET /ready (spec §6).
func (s *Server) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": true, "registeredWithPostOffice": s.registered})
}

type addAgentRequest struct {
	ID             string `json:"agentId" binding:"required"`
	MissionID      string `json:"missionId" binding:"required"`
	Role           string `json:"role"`
	ActionVerb     string `json:"actionVerb"`
	MissionContext string `json:"missionContext"`
	Goal           string `json:"goal" binding:"required"`
}

// AddAgent handles POST /addAgent (spec §6).
func (s *Server) AddAgent(c *gin.Context) {
	var req addAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ag, err := s.set.CreateAgent(c.Request.Context(), agentset.AddAgentRequest{
		ID: req.ID, MissionID: req.MissionID, Role: models.Role(req.Role),
		ActionVerb: req.ActionVerb, MissionContext: req.MissionContext, Goal: req.Goal,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "agent created", "agentId": ag.ID})
}

type removeAgentRequest struct {
	AgentID        string `json:"agentId" binding:"required"`
	TerminalStatus string `json:"terminalStatus"`
}

// RemoveAgent handles POST /removeAgent (spec §6).
func (s *Server) RemoveAgent(c *gin.Context) {
	var req removeAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}
	status := models.AgentStatus(req.TerminalStatus)
	if status == "" {
		status = models.AgentCompleted
	}
	s.set.RemoveAgentFromSet(req.AgentID, status)
	c.JSON(http.StatusOK, gin.H{"message": "agent removed"})
}

type agentMessageRequest struct {
	Kind       string `json:"kind" binding:"required"`
	Content    string `json:"content"`
	RequestID  string `json:"requestId"`
	SignalName string `json:"signalName"`
}

// AgentMessage handles POST /agent/:id/message (spec §6).
func (s *Server) AgentMessage(c *gin.Context) {
	ag, ok := s.set.GetAgent(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	var req agentMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ag.Deliver(agent.Message{
		Kind: req.Kind, Content: req.Content, RequestID: req.RequestID, SignalName: req.SignalName,
	})
	c.JSON(http.StatusOK, gin.H{"message": "delivered"})
}

// GetAgent handles GET /agent/:id (spec §6).
func (s *Server) GetAgent(c *gin.Context) {
	ag, ok := s.set.GetAgent(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, ag.Snapshot())
}

// AgentOutput handles GET /agent/:id/output (spec §6).
func (s *Server) AgentOutput(c *gin.Context) {
	ag, ok := s.set.GetAgent(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	outputs, found := ag.FinalOutput()
	if !found {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no final output produced yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": outputs})
}

type missionRequest struct {
	MissionID string `json:"missionId" binding:"required"`
}

// PauseAgents handles POST /pauseAgents (spec §6).
func (s *Server) PauseAgents(c *gin.Context) {
	var req missionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count := s.set.PauseMissionAgents(req.MissionID)
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// ResumeAgents handles POST /resumeAgents (spec §6).
func (s *Server) ResumeAgents(c *gin.Context) {
	var req missionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count := s.set.ResumeMissionAgents(req.MissionID)
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// AbortAgents handles POST /abortAgents (spec §6).
func (s *Server) AbortAgents(c *gin.Context) {
	var req missionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count := s.set.AbortMissionAgents(req.MissionID)
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type singleAgentRequest struct {
	AgentID string `json:"agentId" binding:"required"`
}

// AbortAgent handles POST /abortAgent (spec §6).
func (s *Server) AbortAgent(c *gin.Context) {
	var req singleAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.set.AbortAgent(req.AgentID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "aborted"})
}

// ResumeAgent handles POST /resumeAgent (spec §6).
func (s *Server) ResumeAgent(c *gin.Context) {
	var req singleAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.set.ResumeAgent(req.AgentID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "resumed"})
}

// Statistics handles GET /statistics/:missionId (spec §6, §8 invariant 4;
// spec §12 "Statistics aggregation detail" for the per-status histogram).
func (s *Server) Statistics(c *gin.Context) {
	missionID := c.Param("missionId")
	if missionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missionId is required"})
		return
	}
	c.JSON(http.StatusOK, s.set.Statistics(missionID))
}

type saveAgentRequest struct {
	AgentID string `json:"agentId" binding:"required"`
}

// SaveAgent handles POST /saveAgent (spec §6, §4.6 forced checkpoint).
func (s *Server) SaveAgent(c *gin.Context) {
	var req saveAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ag, ok := s.set.GetAgent(req.AgentID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if s.lifecycle == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lifecycle manager not configured"})
		return
	}
	if err := s.lifecycle.Checkpoint(c.Request.Context(), ag); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "checkpointed", "version": ag.Version.String()})
}

// MigrateAgent handles POST /migrateAgent (spec §4.6 "Migration" target side).
func (s *Server) MigrateAgent(c *gin.Context) {
	var state models.AgentState
	if err := c.ShouldBindJSON(&state); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ag, err := s.set.AdoptMigratedAgent(c.Request.Context(), state)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "agent adopted", "agentId": ag.ID})
}
