// Package httpapi wires the AgentSet's external HTTP surface (spec §6) onto
// gin, the teacher's HTTP framework of choice, translating apperrors.Kind to
// status codes and delegating all real work to agentset/conflict/collaboration/lifecycle.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cpravetz/agentset/internal/agentset"
	"github.com/cpravetz/agentset/internal/collaboration"
	"github.com/cpravetz/agentset/internal/conflict"
	"github.com/cpravetz/agentset/internal/lifecycle"
	"github.com/cpravetz/agentset/internal/logging"
)

// Server holds the collaborators the HTTP surface routes requests to.
type Server struct {
	set           *agentset.AgentSet
	conflict      *conflict.Manager
	collaboration *collaboration.Manager
	lifecycle     *lifecycle.Manager
	serviceToken  string
	registered    bool
	log           *logging.Logger
}

// New builds a Server. conflict/collaboration/lifecycle may be nil, in which
// case the routes that need them respond 500 with an explanatory message.
func New(set *agentset.AgentSet, conflictMgr *conflict.Manager, collab *collaboration.Manager, lc *lifecycle.Manager, serviceToken string) *Server {
	return &Server{
		set: set, conflict: conflictMgr, collaboration: collab, lifecycle: lc,
		serviceToken: serviceToken,
		log:          logging.New().WithComponent("httpapi"),
	}
}

// SetRegistered records whether this AgentSet has completed PostOffice
// registration, reported by GET /ready.
func (s *Server) SetRegistered(v bool) { s.registered = v }

// Router builds the gin.Engine with every spec §6 route wired (spec §6
// "HTTP (selected; all except health/ready require a bearer service token)").
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", s.Health)
	r.GET("/ready", s.Ready)

	authed := r.Group("/")
	authed.Use(s.authMiddleware())
	{
		authed.POST("/addAgent", s.AddAgent)
		authed.POST("/removeAgent", s.RemoveAgent)
		authed.POST("/agent/:id/message", s.AgentMessage)
		authed.GET("/agent/:id", s.GetAgent)
		authed.GET("/agent/:id/output", s.AgentOutput)
		authed.POST("/pauseAgents", s.PauseAgents)
		authed.POST("/resumeAgents", s.ResumeAgents)
		authed.POST("/abortAgents", s.AbortAgents)
		authed.POST("/abortAgent", s.AbortAgent)
		authed.POST("/resumeAgent", s.ResumeAgent)
		authed.GET("/statistics/:missionId", s.Statistics)
		authed.POST("/saveAgent", s.SaveAgent)
		authed.POST("/migrateAgent", s.MigrateAgent)
		authed.POST("/step-location", s.CreateStepLocation)
		authed.PUT("/step-location/:stepId", s.UpdateStepLocation)
		authed.GET("/step-location/:stepId", s.GetStepLocation)
		authed.POST("/delegateTask", s.DelegateTask)
		authed.POST("/conflictVote", s.ConflictVote)
		authed.POST("/resolveConflict", s.ResolveConflict)
		authed.POST("/collaboration/message", s.CollaborationMessage)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("request handled", map[string]interface{}{
			"method": c.Request.Method, "path": c.FullPath(), "status": c.Writer.Status(),
		})
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.serviceToken == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token != s.serviceToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid service token"})
			return
		}
		c.Next()
	}
}
