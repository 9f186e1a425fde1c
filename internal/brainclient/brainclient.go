// Package brainclient is a thin, contract-only HTTP client for the
// out-of-scope Brain reasoning service (spec §1, §6): planning, replanning,
// negotiation prompts and simple-conversational replies. Circuit-broken with
// github.com/sony/gobreaker, the same library and Settings shape kubernaut
// uses to isolate flaky downstream channels.
package brainclient

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
)

// PlanRequest asks Brain to produce or continue a plan for a step.
type PlanRequest struct {
	MissionID      string                 `json:"missionId"`
	StepID         string                 `json:"stepId"`
	Goal           string                 `json:"goal"`
	MissionContext string                 `json:"missionContext"`
	Inputs         map[string]interface{} `json:"inputs,omitempty"`
}

// PlanResponse carries Brain's reply: either a plan expansion or a direct
// answer (e.g. for a simple-conversational message or a REFLECT summary).
type PlanResponse struct {
	Plan   json.RawMessage `json:"plan,omitempty"`
	Answer string          `json:"answer,omitempty"`
}

// NegotiationRequest asks Brain to mediate a conflict (spec §4.5 NEGOTIATION).
type NegotiationRequest struct {
	ConflictID  string            `json:"conflictId"`
	Description string            `json:"description"`
	Votes       map[string]string `json:"votes"`
	Explanations map[string]string `json:"explanations,omitempty"`
}

// NegotiationResponse is Brain's mediated resolution.
type NegotiationResponse struct {
	Resolution  string `json:"resolution"`
	Explanation string `json:"explanation"`
}

// Client is the Brain HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New builds a Client against baseURL (host:port, scheme added here),
// authenticating with the shared service token.
func New(baseURL, token string) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "brainclient",
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Client{
		baseURL:    "http://" + baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker:    cb,
	}
}

// Plan requests a plan expansion or direct answer for req.
func (c *Client) Plan(ctx context.Context, req PlanRequest) (PlanResponse, error) {
	var resp PlanResponse
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, "/plan", req)
	})
	if err != nil {
		return resp, translateErr("brainclient.plan", err)
	}
	if err := json.Unmarshal(out.([]byte), &resp); err != nil {
		return resp, apperrors.Contract("brainclient.plan", err)
	}
	return resp, nil
}

// Negotiate asks Brain to mediate a conflict.
func (c *Client) Negotiate(ctx context.Context, req NegotiationRequest) (NegotiationResponse, error) {
	var resp NegotiationResponse
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, "/negotiate", req)
	})
	if err != nil {
		return resp, translateErr("brainclient.negotiate", err)
	}
	if err := json.Unmarshal(out.([]byte), &resp); err != nil {
		return resp, apperrors.Contract("brainclient.negotiate", err)
	}
	return resp, nil
}

// Converse asks Brain for a friendly reply to a simple-conversational
// message (spec §4.2.2). Only the message text is sent.
func (c *Client) Converse(ctx context.Context, message string) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, "/converse", map[string]string{"message": message})
	})
	if err != nil {
		return "", translateErr("brainclient.converse", err)
	}
	var resp PlanResponse
	if err := json.Unmarshal(out.([]byte), &resp); err != nil {
		return "", apperrors.Contract("brainclient.converse", err)
	}
	return resp.Answer, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("brain returned %d: %s", resp.StatusCode, string(data))
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.Contract("brainclient.post", fmt.Errorf("brain returned %d: %s", resp.StatusCode, string(data)))
	}
	return data, nil
}

func translateErr(op string, err error) error {
	if apperrors.Is(err, apperrors.KindContract) {
		return err
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperrors.TransientExternal(op, err)
	}
	return apperrors.TransientExternal(op, err)
}
