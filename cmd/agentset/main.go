package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/cpravetz/agentset/internal/agent"
	"github.com/cpravetz/agentset/internal/agentset"
	"github.com/cpravetz/agentset/internal/brainclient"
	"github.com/cpravetz/agentset/internal/bus"
	"github.com/cpravetz/agentset/internal/capabilitiesclient"
	"github.com/cpravetz/agentset/internal/collaboration"
	"github.com/cpravetz/agentset/internal/conflict"
	"github.com/cpravetz/agentset/internal/config"
	"github.com/cpravetz/agentset/internal/delegation"
	"github.com/cpravetz/agentset/internal/httpapi"
	"github.com/cpravetz/agentset/internal/lifecycle"
	"github.com/cpravetz/agentset/internal/logging"
	"github.com/cpravetz/agentset/internal/metrics"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/persistence"
	"github.com/cpravetz/agentset/internal/registry"
	"github.com/cpravetz/agentset/internal/telemetry"
	"github.com/cpravetz/agentset/internal/trafficclient"
)

func main() {
	var cli CLI
	kong.Parse(&cli, kong.Description("AgentSet HTTP service"))

	log := logging.New().WithComponent("main")
	logging.SetLevel(cli.LogLevel)

	cfg, err := config.LoadFile(cli.Config)
	if err != nil {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		log.Error("failed to load configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if cli.Port > 0 {
		cfg.Server.Port = cli.Port
	}

	loadVerbRoleOverrides(log)

	shutdownTracing, err := telemetry.Configure(cfg.Telemetry.Enabled, cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
	if err != nil {
		log.Warn("tracing exporter unavailable, continuing without spans", map[string]interface{}{"error": err.Error()})
		shutdownTracing = func(context.Context) error { return nil }
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		log.Error("failed to connect to database", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer pool.Close()

	sqlDB, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Error("failed to open migration handle", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if err := persistence.Migrate(sqlDB); err != nil {
		log.Error("failed to run migrations", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	_ = sqlDB.Close()
	store := persistence.New(pool)

	messageBus, err := bus.New(cfg.Services.RabbitMQURL)
	if err != nil {
		log.Warn("message bus unavailable, continuing degraded", map[string]interface{}{"error": err.Error()})
	}

	reg := registry.New()
	brain := brainclient.New(cfg.Services.BrainURL, cfg.Security.ClientSecret)
	capabilities := capabilitiesclient.New(cfg.Services.CapabilitiesManagerURL, cfg.Security.ClientSecret)
	traffic := trafficclient.New(cfg.Services.TrafficManagerURL, cfg.Security.ClientSecret)

	lifecycleMgr := lifecycle.New(store, cfg.Security.ClientSecret, cfg.Tuning.CheckpointInterval())

	set := agentset.New(agentset.Config{
		MaxAgents: cfg.Tuning.MaxAgents, Registry: reg, Brain: brainAdapter{brain}, Capabilities: capabilitiesAdapter{capabilities},
		Bus: messageBus, Sink: store, Products: store, Traffic: traffic, Lifecycle: lifecycleMgr,
	})

	conflictMgr := conflict.New(brain, conflictNotifier(set))
	delegationMgr := delegation.New(set.LookupAgentStatus, set.TransferStep, forwardDelegation(cfg.Security.ClientSecret), traffic)
	collaborationMgr := collaboration.New(set.LookupAgentLocal, localDeliver(set), messageBus, traffic)

	set.SetDelegation(delegationMgr)
	set.SetConflict(conflictMgr)
	set.SetCollaboration(collaborationMgr)

	if messageBus != nil {
		if _, err := messageBus.SubscribeStatusUpdates(func(u bus.StatusUpdate) {
			delegationMgr.OnStatusUpdate(struct {
				AgentID string
				Status  string
			}{AgentID: u.AgentID, Status: u.Status})
		}); err != nil {
			log.Warn("failed to subscribe to status updates", map[string]interface{}{"error": err.Error()})
		}
		if _, err := messageBus.SubscribeCollaborationMessages(func(msg bus.CollaborationMessage) {
			if set.LookupAgentLocal(msg.ToAgentID) {
				if err := localDeliver(set)(context.Background(), msg); err != nil {
					log.Warn("local delivery of remote collaboration message failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}); err != nil {
			log.Warn("failed to subscribe to collaboration messages", map[string]interface{}{"error": err.Error()})
		}
	}

	server := httpapi.New(set, conflictMgr, collaborationMgr, lifecycleMgr, cfg.Security.ClientSecret)
	server.SetRegistered(true)

	router := server.Router()
	metricsHandler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
	router.GET("/metrics", func(c *gin.Context) {
		metricsHandler.ServeHTTP(c.Writer, c.Request)
	})

	httpServer := &http.Server{Addr: cfg.Server.Addr(), Handler: router}

	stopSweeps := startBackgroundSweeps(ctx, set, delegationMgr, conflictMgr, lifecycleMgr)
	defer stopSweeps()

	go func() {
		log.Info("agentset listening", map[string]interface{}{"addr": cfg.Server.Addr()})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	log.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if messageBus != nil {
		messageBus.Close()
	}
	logging.Sync()
}

// brainAdapter narrows brainclient.Client's request/response DTOs down to
// the plan/converse shape agent.Brain expects.
type brainAdapter struct{ c *brainclient.Client }

func (b brainAdapter) Plan(ctx context.Context, goal, missionContext string, inputs map[string]interface{}) ([]byte, string, error) {
	resp, err := b.c.Plan(ctx, brainclient.PlanRequest{Goal: goal, MissionContext: missionContext, Inputs: inputs})
	if err != nil {
		return nil, "", err
	}
	return resp.Plan, resp.Answer, nil
}

func (b brainAdapter) Converse(ctx context.Context, message string) (string, error) {
	return b.c.Converse(ctx, message)
}

// capabilitiesAdapter narrows capabilitiesclient.Client's request DTO down to
// the positional-argument shape agent.Capabilities expects.
type capabilitiesAdapter struct{ c *capabilitiesclient.Client }

func (a capabilitiesAdapter) Execute(ctx context.Context, missionID, stepID, actionVerb string, inputs map[string]models.InputValue) ([]models.PluginOutput, error) {
	return a.c.Execute(ctx, capabilitiesclient.ExecuteRequest{
		MissionID: missionID, StepID: stepID, ActionVerb: actionVerb, Inputs: inputs,
	})
}

// startBackgroundSweeps runs the periodic housekeeping spec §4.4/§4.5/§4.6
// describe as cadence-driven sweeps, each on its own ticker, stopped via the
// returned func when ctx is cancelled.
func startBackgroundSweeps(ctx context.Context, set *agentset.AgentSet, d *delegation.Manager, c *conflict.Manager, lc *lifecycle.Manager) func() {
	tickers := []*time.Ticker{
		time.NewTicker(60 * time.Second),  // delegation expiry sweep
		time.NewTicker(30 * time.Second),  // conflict expiry sweep
		time.NewTicker(lifecycle.HealthMonitorInterval),
		time.NewTicker(20 * time.Second),  // stuck-agent retry sweep
		time.NewTicker(10 * time.Second),  // metrics refresh
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-tickers[0].C:
				d.ExpirySweep(time.Now())
			case <-tickers[1].C:
				c.ExpirySweep(time.Now())
			case <-tickers[2].C:
				lc.MonitorHealth(ctx)
			case <-tickers[3].C:
				set.CheckAndFixStuckAgents()
			case <-tickers[4].C:
				set.RefreshMetrics()
			}
		}
	}()

	return func() {
		for _, t := range tickers {
			t.Stop()
		}
	}
}

// forwardDelegation posts a delegation request to a remote AgentSet's
// /delegateTask (spec §4.4, cross-set branch). The remote's own DelegateTask
// handler treats it identically to a local caller's request, since the
// recipient it names resolves as locally hosted there.
func forwardDelegation(serviceToken string) delegation.ForwardFunc {
	client := &http.Client{Timeout: 30 * time.Second}
	return func(ctx context.Context, agentSetURL string, task models.DelegatedTask) (bool, string, error) {
		var resp struct {
			Accepted bool   `json:"accepted"`
			Reason   string `json:"reason"`
		}
		if err := postJSON(ctx, client, "http://"+agentSetURL+"/delegateTask", serviceToken, map[string]interface{}{
			"taskId": task.ID, "stepId": task.ID, "taskType": task.TaskType, "description": task.Description,
			"inputs": task.Inputs, "priority": string(task.Priority),
			"delegatedBy": task.DelegatedBy, "delegatedTo": task.DelegatedTo,
		}, &resp); err != nil {
			return false, "", err
		}
		return resp.Accepted, resp.Reason, nil
	}
}

// localDeliver hands a collaboration message to a locally hosted agent by
// enqueuing it as a user-kind Message, the same path AgentMessage (POST
// /agent/:id/message) uses, since collaboration content has no dedicated
// Message.Kind of its own (spec §4 item 9).
func localDeliver(set *agentset.AgentSet) collaboration.LocalDeliver {
	return func(ctx context.Context, msg bus.CollaborationMessage) error {
		ag, ok := set.GetAgent(msg.ToAgentID)
		if !ok {
			return fmt.Errorf("collaboration.localDeliver: agent %q not hosted here", msg.ToAgentID)
		}
		ag.Deliver(agent.Message{Kind: "user", Content: collaborationContent(msg)})
		return nil
	}
}

func collaborationContent(msg bus.CollaborationMessage) string {
	if text, ok := msg.Payload["message"].(string); ok {
		return text
	}
	return fmt.Sprintf("[%s from %s]", msg.Type, msg.FromAgentID)
}

// conflictNotifier delivers a conflict event to a participant: locally
// hosted agents get it appended to their conversation; the notification is
// otherwise dropped, since this AgentSet has no standing channel to an
// arbitrary remote participant outside an active delegation or collaboration
// exchange.
func conflictNotifier(set *agentset.AgentSet) conflict.Notifier {
	return func(agentID string, c *models.Conflict) {
		ag, ok := set.GetAgent(agentID)
		if !ok {
			return
		}
		ag.Deliver(agent.Message{Kind: "user", Content: fmt.Sprintf("conflict %s now %s", c.ID, c.Status)})
	}
}

func postJSON(ctx context.Context, client *http.Client, url, token string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("remote agentset returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// loadVerbRoleOverrides reads verb_roles.yaml from the working directory, if
// present, and registers its verb→role mappings ahead of the built-in table
// (spec §6 "Verb→role defaults"). A missing file is not an error.
func loadVerbRoleOverrides(log *logging.Logger) {
	raw, err := os.ReadFile("verb_roles.yaml")
	if err != nil {
		return
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		log.Warn("failed to parse verb_roles.yaml, ignoring", map[string]interface{}{"error": err.Error()})
		return
	}
	roles := make(map[string]models.Role, len(overrides))
	for verb, role := range overrides {
		roles[verb] = models.Role(role)
	}
	models.RegisterVerbRoleOverrides(roles)
	log.Info("loaded verb role overrides", map[string]interface{}{"count": len(roles)})
}
