// Package trafficclient is a thin, contract-only HTTP client for the
// out-of-scope TrafficManager routing oracle (spec §1, §4.4): resolves which
// AgentSet currently hosts a given agentId, for cross-set delegation and
// migration.
package trafficclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cpravetz/agentset/internal/apperrors"
)

// Client is the TrafficManager HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a Client against baseURL (host:port).
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    "http://" + baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ResolveAgentSet returns the URL of the AgentSet currently hosting agentID.
func (c *Client) ResolveAgentSet(ctx context.Context, agentID string) (string, error) {
	var target string
	op := func() error {
		url := fmt.Sprintf("%s/resolve?agentId=%s", c.baseURL, agentID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("agent %q not found in traffic manager", agentID))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("trafficmanager returned %d: %s", resp.StatusCode, string(data))
		}
		var payload struct {
			AgentSetURL string `json:"agentSetUrl"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return backoff.Permanent(err)
		}
		target = payload.AgentSetURL
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, bo); err != nil {
		return "", apperrors.TransientExternal("trafficclient.resolveAgentSet", err)
	}
	return target, nil
}
