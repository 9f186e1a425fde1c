package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cpravetz/agentset/internal/bus"
	"github.com/cpravetz/agentset/internal/delegation"
	"github.com/cpravetz/agentset/internal/models"
)

type stepLocationRequest struct {
	StepID      string `json:"stepId" binding:"required"`
	AgentID     string `json:"agentId" binding:"required"`
	AgentSetURL string `json:"agentSetUrl"`
}

// CreateStepLocation handles POST /step-location (spec §6).
func (s *Server) CreateStepLocation(c *gin.Context) {
	var req stepLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.set.RegisterStepLocation(req.StepID, models.StepLocation{AgentID: req.AgentID, AgentSetURL: req.AgentSetURL})
	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

type updateStepLocationRequest struct {
	AgentID     string `json:"agentId" binding:"required"`
	AgentSetURL string `json:"agentSetUrl"`
}

// UpdateStepLocation handles PUT /step-location/:stepId (spec §6).
func (s *Server) UpdateStepLocation(c *gin.Context) {
	stepID := c.Param("stepId")
	var req updateStepLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.set.UpdateStepLocation(stepID, models.StepLocation{AgentID: req.AgentID, AgentSetURL: req.AgentSetURL}); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// GetStepLocation handles GET /step-location/:stepId (spec §6).
func (s *Server) GetStepLocation(c *gin.Context) {
	loc, ok := s.set.GetStepLocation(c.Param("stepId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "step location not registered"})
		return
	}
	c.JSON(http.StatusOK, loc)
}

type delegateTaskRequest struct {
	TaskID      string                 `json:"taskId" binding:"required"`
	StepID      string                 `json:"stepId" binding:"required"`
	TaskType    string                 `json:"taskType"`
	Description string                 `json:"description"`
	Inputs      map[string]interface{} `json:"inputs"`
	Priority    string                 `json:"priority"`
	DelegatedBy string                 `json:"delegatedBy" binding:"required"`
	DelegatedTo string                 `json:"delegatedTo" binding:"required"`
}

// DelegateTask handles POST /delegateTask (spec §6, §4.4). This is also the
// inbound endpoint a remote AgentSet's ForwardFunc calls when the recipient
// of a delegation is hosted here instead.
func (s *Server) DelegateTask(c *gin.Context) {
	var req delegateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.set.Delegation() == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delegation manager not configured"})
		return
	}
	resp, err := s.set.Delegation().DelegateTask(c.Request.Context(), req.DelegatedBy, req.DelegatedTo, delegation.Request{
		TaskID: req.TaskID, StepID: req.StepID, TaskType: req.TaskType, Description: req.Description,
		Inputs: req.Inputs, Priority: models.Priority(req.Priority),
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": resp.TaskID, "accepted": resp.Accepted, "reason": resp.Reason})
}

type conflictVoteRequest struct {
	ConflictID  string `json:"conflictId" binding:"required"`
	AgentID     string `json:"agentId" binding:"required"`
	Vote        string `json:"vote" binding:"required"`
	Explanation string `json:"explanation"`
}

// ConflictVote handles POST /conflictVote (spec §6, §4.5).
func (s *Server) ConflictVote(c *gin.Context) {
	var req conflictVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.conflict == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "conflict manager not configured"})
		return
	}
	if err := s.conflict.SubmitVote(c.Request.Context(), req.ConflictID, req.AgentID, req.Vote, req.Explanation); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "vote recorded"})
}

type resolveConflictRequest struct {
	ConflictID string `json:"conflictId" binding:"required"`
}

// ResolveConflict handles POST /resolveConflict (spec §6, §4.5).
func (s *Server) ResolveConflict(c *gin.Context) {
	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.conflict == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "conflict manager not configured"})
		return
	}
	if err := s.conflict.ResolveConflict(c.Request.Context(), req.ConflictID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	conflict, _ := s.conflict.Conflict(req.ConflictID)
	c.JSON(http.StatusOK, conflict)
}

type collaborationMessageRequest struct {
	Type        string                 `json:"type" binding:"required"`
	FromAgentID string                 `json:"fromAgentId" binding:"required"`
	ToAgentID   string                 `json:"toAgentId" binding:"required"`
	MissionID   string                 `json:"missionId"`
	Payload     map[string]interface{} `json:"payload"`
}

// CollaborationMessage handles POST /collaboration/message (spec §6, spec §4
// item 9).
func (s *Server) CollaborationMessage(c *gin.Context) {
	var req collaborationMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.collaboration == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "collaboration manager not configured"})
		return
	}
	msg := bus.CollaborationMessage{
		Type: req.Type, FromAgentID: req.FromAgentID, ToAgentID: req.ToAgentID,
		MissionID: req.MissionID, Payload: req.Payload,
	}
	if err := s.collaboration.RouteMessage(c.Request.Context(), msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "routed"})
}
