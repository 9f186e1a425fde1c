// Package capabilitiesclient is a thin, contract-only HTTP client for the
// out-of-scope CapabilitiesManager plugin executor (spec §1, §6): executes a
// step's actionVerb against a registered plugin and returns PluginOutputs.
// Circuit-broken with github.com/sony/gobreaker like internal/brainclient.
package capabilitiesclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cpravetz/agentset/internal/apperrors"
	"github.com/cpravetz/agentset/internal/models"
)

// ExecuteRequest asks CapabilitiesManager to run a step's actionVerb.
type ExecuteRequest struct {
	MissionID  string                        `json:"missionId"`
	StepID     string                        `json:"stepId"`
	ActionVerb string                        `json:"actionVerb"`
	Inputs     map[string]models.InputValue  `json:"inputs"`
}

// Client is the CapabilitiesManager HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New builds a Client against baseURL (host:port).
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: "http://" + baseURL,
		token:   token,
		httpClient: &http.Client{Timeout: 30 * time.Minute}, // spec §5: 1,800,000ms default capability timeout
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "capabilitiesclient",
			MaxRequests: 2,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 },
		}),
	}
}

// Execute runs a plugin for req and returns its PluginOutputs.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) ([]models.PluginOutput, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, "/execute", req)
	})
	if err != nil {
		return nil, apperrors.TransientExternal("capabilitiesclient.execute", err)
	}
	var result []models.PluginOutput
	if err := json.Unmarshal(out.([]byte), &result); err != nil {
		return nil, apperrors.Contract("capabilitiesclient.execute", err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("capabilitiesmanager returned %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
