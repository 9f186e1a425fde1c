// Package persistence is the PersistenceClient: an append-only event log and
// a keyed work-product/agent-state store backed by Postgres via pgx, acting
// as a local dev/test double for the out-of-scope Librarian service (spec §1,
// §6). It has no local semantics beyond idempotent writes, per spec.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cpravetz/agentset/internal/apperrors"
	"github.com/cpravetz/agentset/internal/models"
	"github.com/cpravetz/agentset/internal/step"
)

// WorkProduct is a step's stored result, keyed by (agentId, stepId).
type WorkProduct struct {
	AgentID       string          `json:"agentId"`
	StepID        string          `json:"stepId"`
	ProductID     string          `json:"id"`
	Type          string          `json:"type"` // Final, Interim, Plan
	Scope         string          `json:"scope"` // MissionOutput, AgentOutput, AgentStep
	Data          json.RawMessage `json:"data"`
	MimeType      string          `json:"mimeType,omitempty"`
	FileName      string          `json:"fileName,omitempty"`
	IsDeliverable bool            `json:"isDeliverable"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Store is the concrete PersistenceClient.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Callers obtain the pool via
// pgxpool.New and run Migrate against a database/sql handle to the same DSN
// before serving traffic.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Emit appends an event to the append-only log. Implements step.EventSink so
// the dependency resolver can log dependency_auto_remap directly.
func (s *Store) Emit(eventType string, fields map[string]interface{}) {
	_ = s.EmitEvent(context.Background(), eventType, fieldString(fields, "agentId"), fieldString(fields, "missionId"), fields)
}

var _ step.EventSink = (*Store)(nil)

func fieldString(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// EmitEvent appends a fully-specified event row. Writes are idempotent at
// the storage layer only in the sense that no unique constraint rejects
// duplicates — callers are responsible for not double-emitting.
func (s *Store) EmitEvent(ctx context.Context, eventType, agentID, missionID string, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Contract("persistence.emitEvent", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (event_type, agent_id, mission_id, payload) VALUES ($1, $2, $3, $4)`,
		eventType, agentID, missionID, raw)
	if err != nil {
		return apperrors.TransientExternal("persistence.emitEvent", err)
	}
	return nil
}

// SaveWorkProduct upserts a work product keyed by (agentId, stepId); repeat
// saves for the same key overwrite, making saves idempotent.
func (s *Store) SaveWorkProduct(ctx context.Context, wp WorkProduct) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO work_products (agent_id, step_id, product_id, product_type, scope, data, mime_type, file_name, is_deliverable, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (agent_id, step_id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			product_type = EXCLUDED.product_type,
			scope = EXCLUDED.scope,
			data = EXCLUDED.data,
			mime_type = EXCLUDED.mime_type,
			file_name = EXCLUDED.file_name,
			is_deliverable = EXCLUDED.is_deliverable,
			updated_at = now()
	`, wp.AgentID, wp.StepID, wp.ProductID, wp.Type, wp.Scope, wp.Data, wp.MimeType, wp.FileName, wp.IsDeliverable)
	if err != nil {
		return apperrors.TransientExternal("persistence.saveWorkProduct", err)
	}
	return nil
}

// GetWorkProduct fetches the work product stored for (agentId, stepId).
func (s *Store) GetWorkProduct(ctx context.Context, agentID, stepID string) (WorkProduct, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT agent_id, step_id, product_id, product_type, scope, data, mime_type, file_name, is_deliverable, updated_at
		FROM work_products WHERE agent_id = $1 AND step_id = $2
	`, agentID, stepID)

	var wp WorkProduct
	var mime, file *string
	if err := row.Scan(&wp.AgentID, &wp.StepID, &wp.ProductID, &wp.Type, &wp.Scope, &wp.Data, &mime, &file, &wp.IsDeliverable, &wp.UpdatedAt); err != nil {
		return WorkProduct{}, false, nil
	}
	if mime != nil {
		wp.MimeType = *mime
	}
	if file != nil {
		wp.FileName = *file
	}
	return wp, true, nil
}

// SaveAgentState upserts a versioned or unversioned agent state snapshot
// under agentKey (agentId, or agentId-vX.Y.Z for versioned saves).
func (s *Store) SaveAgentState(ctx context.Context, agentKey, agentID, missionID string, state json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_states (agent_key, agent_id, mission_id, state, saved_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (agent_key) DO UPDATE SET state = EXCLUDED.state, saved_at = now()
	`, agentKey, agentID, missionID, state)
	if err != nil {
		return apperrors.TransientExternal("persistence.saveAgentState", err)
	}
	return nil
}

var _ step.WorkProductStore = (*Store)(nil)

// SaveStepResult implements step.WorkProductStore: it upserts a step's full
// result set as a work product keyed by (agentID, stepID), so a dependent
// step owned by a different agent or a different AgentSet can resolve it
// through the StepLocationRegistry without an in-memory handle to the
// producer (spec §3 Ownership).
func (s *Store) SaveStepResult(ctx context.Context, agentID, stepID string, outputs []models.PluginOutput) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return apperrors.Contract("persistence.saveStepResult", err)
	}
	productType := "Interim"
	deliverable := false
	for _, out := range outputs {
		if out.ResultType == models.ResultFinal {
			productType = "Final"
		}
		if out.ResultType == models.ResultPlan {
			productType = "Plan"
		}
		if out.IsDeliverable() {
			deliverable = true
		}
	}
	return s.SaveWorkProduct(ctx, WorkProduct{
		AgentID: agentID, StepID: stepID, ProductID: stepID,
		Type: productType, Scope: "AgentStep", Data: data, IsDeliverable: deliverable,
	})
}

// FetchStepResult implements step.WorkProductStore: it loads the work
// product saved by SaveStepResult and decodes it back into PluginOutputs.
func (s *Store) FetchStepResult(ctx context.Context, agentID, stepID string) ([]models.PluginOutput, bool, error) {
	wp, ok, err := s.GetWorkProduct(ctx, agentID, stepID)
	if err != nil || !ok {
		return nil, ok, err
	}
	var outputs []models.PluginOutput
	if err := json.Unmarshal(wp.Data, &outputs); err != nil {
		return nil, false, apperrors.Contract("persistence.fetchStepResult", err)
	}
	return outputs, true, nil
}

// LoadAgentState loads the most recently saved state for agentKey.
func (s *Store) LoadAgentState(ctx context.Context, agentKey string) (json.RawMessage, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT state FROM agent_states WHERE agent_key = $1`, agentKey)
	var state json.RawMessage
	if err := row.Scan(&state); err != nil {
		return nil, false, nil
	}
	return state, true, nil
}
